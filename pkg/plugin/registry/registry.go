// Package registry 维护插件描述、配置、运行状态和依赖关系
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/lomehong/pluginkit/pkg/errors"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

// Lifecycle 激活与停用时的回调，由插件管理器实现
type Lifecycle interface {
	OnActivate(ctx context.Context, p *plugin.Plugin) error
	OnDeactivate(ctx context.Context, p *plugin.Plugin) error
}

// Stats 注册表统计
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Inactive   int `json:"inactive"`
	WithErrors int `json:"withErrors"`
}

// Option 注册表选项
type Option func(*Registry)

// WithValidator 设置描述验证器
func WithValidator(v plugin.Validator) Option {
	return func(r *Registry) {
		r.validator = v
	}
}

// WithLifecycle 设置激活回调
func WithLifecycle(l Lifecycle) Option {
	return func(r *Registry) {
		r.lifecycle = l
	}
}

// Registry 插件注册表
type Registry struct {
	mu        sync.RWMutex
	plugins   map[string]*plugin.Plugin
	order     []string
	configs   map[string]plugin.Config
	statuses  map[string]*plugin.Status
	validator plugin.Validator
	lifecycle Lifecycle
	logger    hclog.Logger
}

// New 创建插件注册表
func New(logger hclog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Registry{
		plugins:   make(map[string]*plugin.Plugin),
		configs:   make(map[string]plugin.Config),
		statuses:  make(map[string]*plugin.Status),
		validator: plugin.NewDefaultValidator(),
		logger:    logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLifecycle 设置激活回调
func (r *Registry) SetLifecycle(l Lifecycle) {
	r.mu.Lock()
	r.lifecycle = l
	r.mu.Unlock()
}

// Register 注册插件
// 验证失败或依赖未注册时不修改注册表
func (r *Registry) Register(p *plugin.Plugin) error {
	if p == nil {
		return errors.NewValidationError("", []string{"plugin is nil"})
	}

	if r.validator != nil {
		res := r.validator.Validate(p)
		if !res.Valid {
			return errors.NewValidationError(p.Name, res.Errors)
		}
		for _, w := range res.Warnings {
			r.logger.Warn("插件验证警告", "plugin", p.Name, "warning", w)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dep := range p.Dependencies {
		if _, ok := r.plugins[dep]; !ok {
			return errors.NewMissingDependencyError(p.Name, dep)
		}
	}

	if existing, ok := r.plugins[p.Name]; ok {
		if existing.Version != p.Version {
			r.logger.Warn("插件已注册，使用新版本替换", "plugin", p.Name, "old", existing.Version, "new", p.Version)
		} else {
			r.logger.Warn("插件已注册，重新注册", "plugin", p.Name, "version", p.Version)
		}
	} else {
		r.order = append(r.order, p.Name)
	}

	r.plugins[p.Name] = p
	r.statuses[p.Name] = &plugin.Status{
		Name:      p.Name,
		Version:   p.Version,
		Installed: true,
		Errors:    []string{},
	}

	r.logger.Info("插件已注册", "plugin", p.Name, "version", p.Version)
	return nil
}

// Unregister 注销插件，仍被其它插件依赖时拒绝
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[name]; !ok {
		return errors.NewNotFoundError(name)
	}

	if dependents := r.dependentsLocked(name); len(dependents) > 0 {
		return errors.NewDependencyError(name, "cannot unregister %s: plugins depend on it: %s",
			name, strings.Join(dependents, ", ")).WithContext("dependents", dependents)
	}

	delete(r.plugins, name)
	delete(r.configs, name)
	delete(r.statuses, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("插件已注销", "plugin", name)
	return nil
}

// Activate 激活插件，先激活未激活的依赖
func (r *Registry) Activate(ctx context.Context, name string) error {
	return r.activate(ctx, name, map[string]bool{})
}

func (r *Registry) activate(ctx context.Context, name string, chain map[string]bool) error {
	r.mu.RLock()
	p, ok := r.plugins[name]
	var active bool
	if ok {
		active = r.statuses[name].Active
	}
	lifecycle := r.lifecycle
	r.mu.RUnlock()

	if !ok {
		return errors.NewNotFoundError(name)
	}
	if active {
		r.logger.Warn("插件已激活", "plugin", name)
		return nil
	}
	if chain[name] {
		return errors.NewCircularDependencyError(name)
	}
	chain[name] = true
	defer delete(chain, name)

	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, dep := range p.Dependencies {
			depStatus, ok := r.GetStatus(dep)
			if !ok {
				return errors.NewMissingDependencyError(name, dep)
			}
			if depStatus.Active {
				continue
			}
			if err := r.activate(ctx, dep, chain); err != nil {
				return fmt.Errorf("activate dependency %s: %w", dep, err)
			}
		}
		if lifecycle != nil {
			return errors.LogRecover(r.logger, name, func() error {
				return lifecycle.OnActivate(ctx, p)
			})
		}
		return nil
	}()

	if err != nil {
		r.UpdateStatus(name, func(s *plugin.Status) {
			s.Active = false
			s.HasErrors = true
			s.Errors = []string{err.Error()}
			s.LastError = err.Error()
		})
		r.logger.Error("插件激活失败", "plugin", name, "error", err)
		return errors.NewExecutionError(name, err, "failed to activate plugin %s", name)
	}

	r.UpdateStatus(name, func(s *plugin.Status) {
		s.Active = true
		s.HasErrors = false
		s.Errors = []string{}
		s.LastError = ""
	})
	r.logger.Info("插件已激活", "plugin", name)
	return nil
}

// Deactivate 停用插件，先停用依赖它的已激活插件
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	return r.deactivate(ctx, name, map[string]bool{})
}

func (r *Registry) deactivate(ctx context.Context, name string, chain map[string]bool) error {
	r.mu.RLock()
	p, ok := r.plugins[name]
	var active bool
	if ok {
		active = r.statuses[name].Active
	}
	lifecycle := r.lifecycle
	r.mu.RUnlock()

	if !ok {
		return errors.NewNotFoundError(name)
	}
	if !active {
		r.logger.Warn("插件未激活", "plugin", name)
		return nil
	}
	if chain[name] {
		return errors.NewCircularDependencyError(name)
	}
	chain[name] = true
	defer delete(chain, name)

	err := func() error {
		for _, dependent := range r.GetDependents(name) {
			st, ok := r.GetStatus(dependent)
			if !ok || !st.Active {
				continue
			}
			if err := r.deactivate(ctx, dependent, chain); err != nil {
				return fmt.Errorf("deactivate dependent %s: %w", dependent, err)
			}
		}
		if lifecycle != nil {
			return errors.LogRecover(r.logger, name, func() error {
				return lifecycle.OnDeactivate(ctx, p)
			})
		}
		return nil
	}()

	if err != nil {
		// 停用失败时保持激活标记
		r.UpdateStatus(name, func(s *plugin.Status) {
			s.RecordError(err)
		})
		r.logger.Error("插件停用失败", "plugin", name, "error", err)
		return errors.NewExecutionError(name, err, "failed to deactivate plugin %s", name)
	}

	r.UpdateStatus(name, func(s *plugin.Status) {
		s.Active = false
	})
	r.logger.Info("插件已停用", "plugin", name)
	return nil
}

// ResolveLoadOrder 计算加载顺序，依赖总在依赖方之前
// 按注册顺序深度优先遍历，缺失依赖和循环依赖返回依赖错误
func (r *Registry) ResolveLoadOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]bool, len(r.plugins))
	visiting := make(map[string]bool)
	order := make([]string, 0, len(r.plugins))

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return errors.NewCircularDependencyError(name)
		}
		visiting[name] = true

		for _, dep := range r.plugins[name].Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				return errors.NewMissingDependencyError(name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		delete(visiting, name)
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// GetDependencyGraph 返回依赖图的副本
func (r *Registry) GetDependencyGraph() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := make(map[string][]string, len(r.plugins))
	for name, p := range r.plugins {
		graph[name] = append([]string{}, p.Dependencies...)
	}
	return graph
}

// GetDependents 返回直接依赖name的插件，按注册顺序
func (r *Registry) GetDependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependentsLocked(name)
}

func (r *Registry) dependentsLocked(name string) []string {
	var dependents []string
	for _, n := range r.order {
		for _, dep := range r.plugins[n].Dependencies {
			if dep == name {
				dependents = append(dependents, n)
				break
			}
		}
	}
	return dependents
}

// Get 获取插件描述
func (r *Registry) Get(name string) (*plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Has 插件是否已注册
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// GetAll 按注册顺序返回所有插件
func (r *Registry) GetAll() []*plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.plugins[name])
	}
	return all
}

// GetActive 按注册顺序返回已激活的插件
func (r *Registry) GetActive() []*plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*plugin.Plugin
	for _, name := range r.order {
		if r.statuses[name].Active {
			active = append(active, r.plugins[name])
		}
	}
	return active
}

// GetConfig 获取插件配置
func (r *Registry) GetConfig(name string) (plugin.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[name]
	if !ok {
		return plugin.Config{}, false
	}
	return c.Clone(), true
}

// SetConfig 保存插件配置并更新UpdatedAt
func (r *Registry) SetConfig(name string, cfg plugin.Config) {
	cfg = cfg.Clone()
	cfg.Name = name
	cfg.UpdatedAt = plugin.NowMillis()

	r.mu.Lock()
	r.configs[name] = cfg
	r.mu.Unlock()
	r.logger.Debug("插件配置已更新", "plugin", name)
}

// GetStatus 获取插件状态
func (r *Registry) GetStatus(name string) (plugin.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[name]
	if !ok {
		return plugin.Status{}, false
	}
	return s.Clone(), true
}

// GetAllStatuses 按注册顺序返回所有插件状态
func (r *Registry) GetAllStatuses() []plugin.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]plugin.Status, 0, len(r.order))
	for _, name := range r.order {
		statuses = append(statuses, r.statuses[name].Clone())
	}
	return statuses
}

// UpdateStatus 修改插件状态，插件不存在时返回false
func (r *Registry) UpdateStatus(name string, fn func(s *plugin.Status)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[name]
	if !ok {
		return false
	}
	fn(s)
	s.Name = name
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return true
}

// ExportConfig 导出所有插件配置，按名称排序
func (r *Registry) ExportConfig() plugin.ConfigDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := plugin.ConfigDocument{Plugins: make([]plugin.Config, 0, len(names))}
	for _, name := range names {
		c := r.configs[name].Clone()
		c.Name = name
		doc.Plugins = append(doc.Plugins, c)
	}
	return doc
}

// ImportConfig 导入插件配置，条目按原样保存
func (r *Registry) ImportConfig(doc plugin.ConfigDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range doc.Plugins {
		if c.Name == "" {
			r.logger.Warn("忽略缺少名称的插件配置")
			continue
		}
		r.configs[c.Name] = c.Clone()
	}
	r.logger.Info("插件配置已导入", "count", len(doc.Plugins))
}

// Clear 清空注册表
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]*plugin.Plugin)
	r.configs = make(map[string]plugin.Config)
	r.statuses = make(map[string]*plugin.Status)
	r.order = nil
}

// GetStats 返回统计信息
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats Stats
	for _, s := range r.statuses {
		stats.Total++
		if s.Active {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if s.HasErrors {
			stats.WithErrors++
		}
	}
	return stats
}
