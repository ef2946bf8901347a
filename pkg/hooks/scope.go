package hooks

import (
	"context"
	"sync"
)

// Scope 插件作用域
// 记录通过它创建的注册，卸载插件时可以一次性撤销
type Scope struct {
	dispatcher *Dispatcher
	plugin     string

	mu   sync.Mutex
	regs []Registration
}

// Plugin 返回作用域所属插件
func (s *Scope) Plugin() string {
	return s.plugin
}

// Register 注册处理器，处理器归属于作用域插件
func (s *Scope) Register(name string, handler Handler, opts ...RegisterOption) string {
	opts = append(opts, WithOwner(s.plugin))
	id := s.dispatcher.Register(name, handler, opts...)
	if id == "" {
		return ""
	}

	reg := Registration{ID: id, Name: name, Plugin: s.plugin, Priority: DefaultPriority}
	for _, r := range s.dispatcher.GetHooks(name) {
		if r.ID == id {
			reg = r
			break
		}
	}

	s.mu.Lock()
	s.regs = append(s.regs, reg)
	s.mu.Unlock()
	return id
}

// Execute 以作用域插件的身份执行钩子
func (s *Scope) Execute(ctx context.Context, name string, data any, opts ...ExecuteOption) (any, error) {
	opts = append([]ExecuteOption{WithOrigin(s.plugin)}, opts...)
	return s.dispatcher.Execute(ctx, name, data, opts...)
}

// Unregister 移除作用域内的一条注册，不属于本作用域的id返回false
func (s *Scope) Unregister(name, id string) bool {
	s.mu.Lock()
	owned := false
	for i, r := range s.regs {
		if r.ID == id && r.Name == name {
			s.regs = append(s.regs[:i:i], s.regs[i+1:]...)
			owned = true
			break
		}
	}
	s.mu.Unlock()
	if !owned {
		return false
	}
	return s.dispatcher.Unregister(name, id)
}

// UnregisterAll 移除作用域创建的全部注册，返回实际移除的数量
func (s *Scope) UnregisterAll() int {
	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()

	removed := 0
	for _, r := range regs {
		if s.dispatcher.Unregister(r.Name, r.ID) {
			removed++
		}
	}
	return removed
}

// GetRegisteredHooks 返回作用域当前持有的注册
func (s *Scope) GetRegisteredHooks() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Registration(nil), s.regs...)
}
