// Package manager 编排插件的安装、激活、停用和卸载
package manager

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/lomehong/pluginkit/pkg/errors"
	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/logging"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/registry"
)

// MiddlewareEntry 已激活插件提供的中间件
type MiddlewareEntry struct {
	Name     string // plugin:middleware
	Plugin   string
	Handler  mux.MiddlewareFunc
	Priority int
	Global   bool
}

// Stats 管理器统计
type Stats struct {
	Registry   registry.Stats `json:"registry"`
	Hooks      []hooks.Stat   `json:"hooks"`
	Routes     int            `json:"routes"`
	Middleware int            `json:"middleware"`
	Services   int            `json:"services"`
	Models     int            `json:"models"`
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.baseLogger = logger
	}
}

// WithValidator 设置安装时使用的验证器
func WithValidator(v plugin.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithHostVersion 设置宿主版本，用于检查插件的兼容性约束
func WithHostVersion(version string) Option {
	return func(m *Manager) {
		m.hostVersion = version
	}
}

// Manager 插件管理器
type Manager struct {
	registry    *registry.Registry
	hooks       *hooks.Dispatcher
	baseLogger  hclog.Logger
	logger      hclog.Logger
	validator   plugin.Validator
	hostVersion string

	mu          sync.RWMutex
	env         plugin.Environment
	initialized bool
	contexts    map[string]*plugin.Context
	routers     map[string]*mux.Router
	middleware  map[string][]plugin.MiddlewareExtension
	services    map[string]map[string]any
	models      map[string][]plugin.ModelExtension
	activeOrder []string
}

// New 创建插件管理器，并将自身注册为注册表的激活回调
func New(reg *registry.Registry, dispatcher *hooks.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		registry:   reg,
		hooks:      dispatcher,
		baseLogger: hclog.NewNullLogger(),
		validator:  plugin.NewDefaultValidator(),
		contexts:   make(map[string]*plugin.Context),
		routers:    make(map[string]*mux.Router),
		middleware: make(map[string][]plugin.MiddlewareExtension),
		services:   make(map[string]map[string]any),
		models:     make(map[string][]plugin.ModelExtension),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.baseLogger == nil {
		m.baseLogger = hclog.NewNullLogger()
	}
	m.logger = m.baseLogger.Named("manager")
	reg.SetLifecycle(m)
	return m
}

// Registry 返回注册表
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Hooks 返回钩子分发器
func (m *Manager) Hooks() *hooks.Dispatcher {
	return m.hooks
}

// Initialize 保存运行环境并触发app:init
func (m *Manager) Initialize(ctx context.Context, env plugin.Environment) error {
	if env == nil {
		env = plugin.Environment{}
	}
	m.mu.Lock()
	m.env = env
	m.initialized = true
	m.mu.Unlock()

	m.logger.Info("插件管理器已初始化")
	_, err := hooks.ExecuteTyped(ctx, m.hooks, AppInitHook, &InitPayload{Env: env})
	return err
}

// Ready 触发app:ready
func (m *Manager) Ready(ctx context.Context) error {
	_, err := hooks.ExecuteTyped(ctx, m.hooks, AppReadyHook, &ReadyPayload{Plugins: m.activeNames()})
	return err
}

// LoadPlugins 保存启用的配置并按依赖顺序激活
// 只有加载顺序计算失败时返回错误，单个插件激活失败只记录日志
func (m *Manager) LoadPlugins(ctx context.Context, configs []plugin.Config) error {
	for _, c := range configs {
		if c.Enabled && c.Name != "" {
			m.registry.SetConfig(c.Name, c)
		}
	}

	order, err := m.registry.ResolveLoadOrder()
	if err != nil {
		m.logger.Error("计算插件加载顺序失败", "error", err)
		return fmt.Errorf("resolve load order: %w", err)
	}

	loaded := 0
	for _, name := range order {
		cfg, ok := m.registry.GetConfig(name)
		if !ok || !cfg.Enabled {
			continue
		}
		if err := m.registry.Activate(ctx, name); err != nil {
			m.logger.Error("加载插件失败", "plugin", name, "error", err)
			continue
		}
		loaded++
	}

	m.logger.Info("插件加载完成", "loaded", loaded, "registered", len(order))
	return nil
}

// Install 安装插件，patch为nil时使用已保存的配置
// 注册之后的失败记录到插件状态并返回，已完成的步骤不回滚
// 注册之前的验证或依赖失败不影响同名的已安装插件
func (m *Manager) Install(ctx context.Context, p *plugin.Plugin, patch *plugin.ConfigPatch) error {
	if p == nil {
		return errors.NewValidationError("", []string{"plugin is nil"})
	}

	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return errors.NewStateError(p.Name, "plugin manager is not initialized")
	}

	if registered, err := m.install(ctx, p, patch); err != nil {
		if registered {
			m.registry.UpdateStatus(p.Name, func(s *plugin.Status) {
				s.RecordError(err)
			})
		}
		m.logger.Error("插件安装失败", "plugin", p.Name, "error", err)
		return err
	}

	m.logger.Info("插件已安装", "plugin", p.Name, "version", p.Version)
	return nil
}

// install 返回插件是否已写入注册表
func (m *Manager) install(ctx context.Context, p *plugin.Plugin, patch *plugin.ConfigPatch) (bool, error) {
	if m.validator != nil {
		if res := m.validator.Validate(p); !res.Valid {
			return false, errors.NewValidationError(p.Name, res.Errors)
		}
	}
	if m.hostVersion != "" {
		if res := plugin.ValidateCompatibility(p, m.hostVersion); !res.Valid {
			return false, errors.NewValidationError(p.Name, res.Errors)
		}
	}

	if err := m.registry.Register(p); err != nil {
		return false, err
	}

	config := plugin.Config{Name: p.Name, Enabled: true, InstalledAt: plugin.NowMillis()}
	if stored, ok := m.registry.GetConfig(p.Name); ok {
		config = config.Merge(stored)
	}
	if patch != nil {
		config = config.Apply(*patch)
	}
	m.registry.SetConfig(p.Name, config)
	config, _ = m.registry.GetConfig(p.Name)

	scope := m.hooks.CreateScope(p.Name)
	pc := &plugin.Context{
		Env:      m.environment(),
		Config:   config,
		Hooks:    scope,
		Logger:   logging.NewPluginLogger(m.baseLogger, p.Name),
		Services: m,
	}

	var router *mux.Router
	if len(p.Routes) > 0 {
		router = mux.NewRouter()
		for _, mw := range sortedMiddleware(p.Middleware, false) {
			router.Use(mw.Handler)
		}
		for _, r := range p.Routes {
			router.PathPrefix(r.Path).Handler(mount(r.Path, r.Handler))
		}
	}

	svcs := make(map[string]any, len(p.Services))
	for _, s := range p.Services {
		svcs[s.Name] = s.Implementation
	}

	m.mu.Lock()
	// 同名插件重新安装时丢弃旧的作用域，注册表已将其重置为未激活
	if old, ok := m.contexts[p.Name]; ok && old.Hooks != nil {
		defer old.Hooks.UnregisterAll()
	}
	m.activeOrder = removeName(m.activeOrder, p.Name)
	m.contexts[p.Name] = pc
	if router != nil {
		m.routers[p.Name] = router
	} else {
		delete(m.routers, p.Name)
	}
	m.middleware[p.Name] = append([]plugin.MiddlewareExtension(nil), p.Middleware...)
	m.services[p.Name] = svcs
	m.models[p.Name] = append([]plugin.ModelExtension(nil), p.Models...)
	m.mu.Unlock()

	for _, h := range p.Hooks {
		scope.Register(h.Name, h.Handler, hooks.WithPriority(h.EffectivePriority()))
	}

	if p.Install != nil {
		if err := errors.LogRecover(m.logger, p.Name, func() error { return p.Install(ctx, pc) }); err != nil {
			return true, errors.NewExecutionError(p.Name, err, "install callback of plugin %s failed", p.Name)
		}
	}

	_, err := hooks.ExecuteTyped(ctx, m.hooks, PluginInstallHook, &PluginEvent{Plugin: p.Name, Version: p.Version})
	return true, err
}

// Uninstall 卸载插件
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	if err := m.uninstall(ctx, name); err != nil {
		m.registry.UpdateStatus(name, func(s *plugin.Status) {
			s.RecordError(err)
		})
		m.logger.Error("插件卸载失败", "plugin", name, "error", err)
		return err
	}
	m.logger.Info("插件已卸载", "plugin", name)
	return nil
}

func (m *Manager) uninstall(ctx context.Context, name string) error {
	p, ok := m.registry.Get(name)
	if !ok {
		return errors.NewNotFoundError(name)
	}
	if dependents := m.registry.GetDependents(name); len(dependents) > 0 {
		return errors.NewDependencyError(name, "cannot uninstall %s: plugins depend on it: %s",
			name, strings.Join(dependents, ", "))
	}

	if st, _ := m.registry.GetStatus(name); st.Active {
		if err := m.registry.Deactivate(ctx, name); err != nil {
			return err
		}
	}

	pc := m.pluginContext(name)
	if p.Uninstall != nil {
		if err := errors.LogRecover(m.logger, name, func() error { return p.Uninstall(ctx, pc) }); err != nil {
			return errors.NewExecutionError(name, err, "uninstall callback of plugin %s failed", name)
		}
	}

	m.mu.Lock()
	delete(m.routers, name)
	delete(m.middleware, name)
	delete(m.services, name)
	delete(m.models, name)
	delete(m.contexts, name)
	m.mu.Unlock()

	if pc.Hooks != nil {
		removed := pc.Hooks.UnregisterAll()
		m.logger.Debug("移除插件钩子", "plugin", name, "count", removed)
	}

	if _, err := hooks.ExecuteTyped(ctx, m.hooks, PluginUninstallHook, &PluginEvent{Plugin: name, Version: p.Version}); err != nil {
		return err
	}

	return m.registry.Unregister(name)
}

// Activate 激活插件
func (m *Manager) Activate(ctx context.Context, name string) error {
	return m.registry.Activate(ctx, name)
}

// Deactivate 停用插件
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	return m.registry.Deactivate(ctx, name)
}

// OnActivate 实现registry.Lifecycle
func (m *Manager) OnActivate(ctx context.Context, p *plugin.Plugin) error {
	pc := m.pluginContext(p.Name)
	if p.Activate != nil {
		if err := p.Activate(ctx, pc); err != nil {
			return err
		}
	}

	// 钩子中止时注册表保持未激活，激活顺序也不记录
	if _, err := hooks.ExecuteTyped(ctx, m.hooks, PluginActivateHook, &PluginEvent{Plugin: p.Name, Version: p.Version}); err != nil {
		return err
	}

	m.mu.Lock()
	m.activeOrder = append(removeName(m.activeOrder, p.Name), p.Name)
	m.mu.Unlock()
	return nil
}

// OnDeactivate 实现registry.Lifecycle
func (m *Manager) OnDeactivate(ctx context.Context, p *plugin.Plugin) error {
	pc := m.pluginContext(p.Name)
	if p.Deactivate != nil {
		if err := p.Deactivate(ctx, pc); err != nil {
			return err
		}
	}

	if _, err := hooks.ExecuteTyped(ctx, m.hooks, PluginDeactivateHook, &PluginEvent{Plugin: p.Name, Version: p.Version}); err != nil {
		return err
	}

	m.mu.Lock()
	m.activeOrder = removeName(m.activeOrder, p.Name)
	m.mu.Unlock()
	return nil
}

// GetStatus 获取插件状态，未注册的插件返回默认状态
func (m *Manager) GetStatus(name string) plugin.Status {
	if st, ok := m.registry.GetStatus(name); ok {
		return st
	}
	return plugin.Status{Name: name, Version: "unknown", Errors: []string{}}
}

// GetAllStatuses 返回所有插件状态
func (m *Manager) GetAllStatuses() []plugin.Status {
	return m.registry.GetAllStatuses()
}

// GetPluginRoutes 返回各插件的路由
func (m *Manager) GetPluginRoutes() map[string]*mux.Router {
	m.mu.RLock()
	defer m.mu.RUnlock()

	routes := make(map[string]*mux.Router, len(m.routers))
	for name, r := range m.routers {
		routes[name] = r
	}
	return routes
}

// GetActiveRoutes 返回已激活插件的路由，按激活顺序
func (m *Manager) GetActiveRoutes() []*mux.Router {
	m.mu.RLock()
	order := append([]string(nil), m.activeOrder...)
	routes := make(map[string]*mux.Router, len(order))
	for _, name := range order {
		if r, ok := m.routers[name]; ok {
			routes[name] = r
		}
	}
	m.mu.RUnlock()

	var routers []*mux.Router
	for _, name := range order {
		r, ok := routes[name]
		if !ok {
			continue
		}
		if st, _ := m.registry.GetStatus(name); st.Active {
			routers = append(routers, r)
		}
	}
	return routers
}

// GetPluginMiddleware 返回已激活插件的中间件，按优先级升序，优先级相同时保持注册顺序
func (m *Manager) GetPluginMiddleware() []MiddlewareEntry {
	var entries []MiddlewareEntry
	for _, p := range m.registry.GetActive() {
		m.mu.RLock()
		list := m.middleware[p.Name]
		m.mu.RUnlock()
		for _, mw := range list {
			entries = append(entries, MiddlewareEntry{
				Name:     p.Name + ":" + mw.Name,
				Plugin:   p.Name,
				Handler:  mw.Handler,
				Priority: mw.EffectivePriority(),
				Global:   mw.Global,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority < entries[j].Priority
	})
	return entries
}

// GetService 实现plugin.ServiceLocator
func (m *Manager) GetService(pluginName, service string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[pluginName][service]
	return svc, ok
}

// GetPluginServices 返回各插件提供的服务名称
func (m *Manager) GetPluginServices() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]string, len(m.services))
	for name, svcs := range m.services {
		names := make([]string, 0, len(svcs))
		for svc := range svcs {
			names = append(names, svc)
		}
		sort.Strings(names)
		out[name] = names
	}
	return out
}

// GetPluginModels 返回各插件的数据模型
func (m *Manager) GetPluginModels() map[string][]plugin.ModelExtension {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]plugin.ModelExtension, len(m.models))
	for name, models := range m.models {
		out[name] = append([]plugin.ModelExtension(nil), models...)
	}
	return out
}

// Shutdown 触发app:shutdown并按激活的逆序停用插件
func (m *Manager) Shutdown(ctx context.Context) error {
	active := m.activeNames()
	if _, err := hooks.ExecuteTyped(ctx, m.hooks, AppShutdownHook, &ShutdownPayload{Plugins: active}); err != nil {
		m.logger.Error("app:shutdown钩子执行失败", "error", err)
	}

	for i := len(active) - 1; i >= 0; i-- {
		if err := m.registry.Deactivate(ctx, active[i]); err != nil {
			m.logger.Error("关闭时停用插件失败", "plugin", active[i], "error", err)
		}
	}

	m.logger.Info("插件管理器已关闭", "plugins", len(active))
	return nil
}

// GetStats 返回统计信息
func (m *Manager) GetStats() Stats {
	stats := Stats{
		Registry:   m.registry.GetStats(),
		Hooks:      m.hooks.GetStats(),
		Middleware: len(m.GetPluginMiddleware()),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	stats.Routes = len(m.routers)
	for _, svcs := range m.services {
		stats.Services += len(svcs)
	}
	for _, models := range m.models {
		stats.Models += len(models)
	}
	return stats
}

func (m *Manager) environment() plugin.Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env
}

func (m *Manager) activeNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.activeOrder...)
}

// pluginContext 返回插件上下文，未经Install注册的插件按需创建
func (m *Manager) pluginContext(name string) *plugin.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pc, ok := m.contexts[name]; ok {
		if cfg, ok := m.registry.GetConfig(name); ok {
			pc.Config = cfg
		}
		return pc
	}
	cfg, _ := m.registry.GetConfig(name)
	pc := &plugin.Context{
		Env:      m.env,
		Config:   cfg,
		Hooks:    m.hooks.CreateScope(name),
		Logger:   logging.NewPluginLogger(m.baseLogger, name),
		Services: m,
	}
	m.contexts[name] = pc
	return pc
}

func sortedMiddleware(list []plugin.MiddlewareExtension, global bool) []plugin.MiddlewareExtension {
	var out []plugin.MiddlewareExtension
	for _, mw := range list {
		if mw.Global == global && mw.Handler != nil {
			out = append(out, mw)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectivePriority() < out[j].EffectivePriority()
	})
	return out
}

// mount 去掉路由前缀后交给插件处理器
func mount(prefix string, h http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
		if r2.URL.Path == "" {
			r2.URL.Path = "/"
		}
		r2.URL.RawPath = ""
		h.ServeHTTP(w, r2)
	})
}

func removeName(list []string, name string) []string {
	out := list[:0:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
