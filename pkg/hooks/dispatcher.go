// Package hooks 实现按优先级排序的钩子管道
//
// 同一钩子名称下的处理器按优先级升序依次执行，每个处理器接收上一个处理器的
// 返回值。处理器可以通过HookContext取消剩余处理器，返回严重钩子错误
// (errors.NewCriticalHookError) 时整条管道立即中止，其它错误只记录日志。
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/lomehong/pluginkit/pkg/errors"
)

// DefaultPriority 默认优先级
const DefaultPriority = 10

// Handler 钩子处理器
// 返回值作为下一个处理器的输入，返回错误时管道继续使用原输入
type Handler func(ctx context.Context, data any, hc *HookContext) (any, error)

// Registration 一条处理器注册记录
type Registration struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Plugin   string `json:"plugin,omitempty"`
}

// Stat 单个钩子的统计信息
type Stat struct {
	HookName     string `json:"hookName"`
	HandlerCount int    `json:"handlerCount"`
}

type entry struct {
	Registration
	handler Handler
}

// HookContext 单次Execute调用共享的上下文
type HookContext struct {
	// Plugin 发起调用的插件，宿主调用时为空
	Plugin string
	// Data 调用方附带的额外数据
	Data any

	mu        sync.Mutex
	cancelled bool
}

// Cancel 取消剩余处理器的执行
func (hc *HookContext) Cancel() {
	hc.mu.Lock()
	hc.cancelled = true
	hc.mu.Unlock()
}

// Cancelled 是否已取消
func (hc *HookContext) Cancelled() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.cancelled
}

// RegisterOption 注册选项
type RegisterOption func(*Registration)

// WithPriority 设置优先级，数值越小越先执行
func WithPriority(priority int) RegisterOption {
	return func(r *Registration) {
		r.Priority = priority
	}
}

// WithOwner 设置处理器所属插件
func WithOwner(plugin string) RegisterOption {
	return func(r *Registration) {
		r.Plugin = plugin
	}
}

// ExecuteOption 执行选项
type ExecuteOption func(*HookContext)

// WithContextData 附带额外数据
func WithContextData(data any) ExecuteOption {
	return func(hc *HookContext) {
		hc.Data = data
	}
}

// WithOrigin 设置发起调用的插件
func WithOrigin(plugin string) ExecuteOption {
	return func(hc *HookContext) {
		hc.Plugin = plugin
	}
}

// Registrar 可以注册处理器的对象
type Registrar interface {
	Register(name string, handler Handler, opts ...RegisterOption) string
}

// Executor 可以执行钩子的对象
type Executor interface {
	Execute(ctx context.Context, name string, data any, opts ...ExecuteOption) (any, error)
}

// Dispatcher 钩子分发器
type Dispatcher struct {
	mu     sync.RWMutex
	hooks  map[string][]*entry
	logger hclog.Logger
}

// NewDispatcher 创建钩子分发器
func NewDispatcher(logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{
		hooks:  make(map[string][]*entry),
		logger: logger.Named("hooks"),
	}
}

// Register 注册处理器并返回注册ID
// 相同优先级的处理器按注册顺序执行，同一个函数可以重复注册
func (d *Dispatcher) Register(name string, handler Handler, opts ...RegisterOption) string {
	if handler == nil {
		d.logger.Warn("忽略空处理器", "hook", name)
		return ""
	}

	e := &entry{
		Registration: Registration{
			ID:       uuid.New().String(),
			Name:     name,
			Priority: DefaultPriority,
		},
		handler: handler,
	}
	for _, opt := range opts {
		opt(&e.Registration)
	}

	d.mu.Lock()
	list := d.hooks[name]
	// 插入到第一个优先级严格更大的处理器之前
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Priority > e.Priority
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = e
	d.hooks[name] = list
	d.mu.Unlock()

	d.logger.Debug("注册钩子处理器", "hook", name, "id", e.ID, "priority", e.Priority, "plugin", e.Plugin)
	return e.ID
}

// Execute 依次执行钩子处理器并返回最终结果
func (d *Dispatcher) Execute(ctx context.Context, name string, data any, opts ...ExecuteOption) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if isExecuting(ctx, name) {
		d.logger.Warn("检测到钩子递归调用，已跳过", "hook", name, "stack", executingStack(ctx))
		return data, nil
	}

	d.mu.RLock()
	entries := append([]*entry(nil), d.hooks[name]...)
	d.mu.RUnlock()
	if len(entries) == 0 {
		return data, nil
	}

	hc := &HookContext{}
	for _, opt := range opts {
		opt(hc)
	}
	ctx = withExecuting(ctx, name)

	result := data
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out, err := d.invoke(ctx, e, result, hc)
		if err != nil {
			if errors.IsCritical(err) {
				d.logger.Error("严重钩子错误，中止执行", "hook", name, "id", e.ID, "plugin", e.Plugin, "error", err)
				return result, err
			}
			d.logger.Error("钩子处理器执行失败", "hook", name, "id", e.ID, "plugin", e.Plugin, "error", err)
		} else {
			result = out
		}

		if hc.Cancelled() {
			d.logger.Debug("钩子执行已取消", "hook", name, "id", e.ID)
			break
		}
	}

	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, e *entry, in any, hc *HookContext) (out any, err error) {
	err = errors.Recover(e.Plugin, func() error {
		var herr error
		out, herr = e.handler(ctx, in, hc)
		return herr
	})
	return out, err
}

// Unregister 移除指定注册，返回是否存在
func (d *Dispatcher) Unregister(name, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.hooks[name]
	for i, e := range list {
		if e.ID != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(d.hooks, name)
		} else {
			d.hooks[name] = list
		}
		d.logger.Debug("移除钩子处理器", "hook", name, "id", id)
		return true
	}
	return false
}

// GetHooks 返回指定钩子的注册记录，按执行顺序排列
func (d *Dispatcher) GetHooks(name string) []Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := d.hooks[name]
	regs := make([]Registration, len(list))
	for i, e := range list {
		regs[i] = e.Registration
	}
	return regs
}

// GetHookNames 返回所有已注册的钩子名称
func (d *Dispatcher) GetHookNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.hooks))
	for name := range d.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStats 返回每个钩子的处理器数量
func (d *Dispatcher) GetStats() []Stat {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make([]Stat, 0, len(d.hooks))
	for name, list := range d.hooks {
		stats = append(stats, Stat{HookName: name, HandlerCount: len(list)})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].HookName < stats[j].HookName })
	return stats
}

// Clear 移除所有注册
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.hooks = make(map[string][]*entry)
	d.mu.Unlock()
}

// CreateScope 创建插件作用域
func (d *Dispatcher) CreateScope(plugin string) *Scope {
	return &Scope{dispatcher: d, plugin: plugin}
}
