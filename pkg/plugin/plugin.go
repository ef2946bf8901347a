// Package plugin 定义插件描述、扩展点、配置和运行状态
package plugin

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/logging"
)

// DefaultPriority 扩展点的默认优先级，未声明Priority时使用
const DefaultPriority = hooks.DefaultPriority

// Priority 声明扩展点优先级，数值越小越先执行，0也是有效的优先级
func Priority(n int) *int {
	return &n
}

func effectivePriority(p *int) int {
	if p == nil {
		return DefaultPriority
	}
	return *p
}

// LifecycleFunc 生命周期回调
type LifecycleFunc func(ctx context.Context, pc *Context) error

// HookExtension 钩子处理器扩展
type HookExtension struct {
	Name        string
	Handler     hooks.Handler
	Priority    *int // nil时使用DefaultPriority
	Description string
}

// EffectivePriority 实际生效的优先级
func (h HookExtension) EffectivePriority() int {
	return effectivePriority(h.Priority)
}

// RouteExtension 路由扩展，Path为挂载前缀
type RouteExtension struct {
	Path        string
	Handler     http.Handler
	Description string
}

// MiddlewareExtension 中间件扩展
// Global为true时作用于宿主所有请求，否则只作用于插件自己的路由
type MiddlewareExtension struct {
	Name        string
	Handler     mux.MiddlewareFunc
	Priority    *int // nil时使用DefaultPriority
	Global      bool
	Description string
}

// EffectivePriority 实际生效的优先级
func (m MiddlewareExtension) EffectivePriority() int {
	return effectivePriority(m.Priority)
}

// ServiceExtension 服务扩展
type ServiceExtension struct {
	Name           string
	Implementation any
	Description    string
}

// ModelExtension 数据模型扩展
type ModelExtension struct {
	Name       string
	TableName  string
	Migrations []string
}

// Plugin 插件描述
// 注册后视为不可变，同名插件重新注册会整体替换
type Plugin struct {
	Name          string
	Version       string
	Description   string
	Author        string
	License       string
	Compatibility string // 宿主版本约束，例如 ">=1.0.0, <2.0.0"
	Dependencies  []string

	Hooks      []HookExtension
	Routes     []RouteExtension
	Middleware []MiddlewareExtension
	Services   []ServiceExtension
	Models     []ModelExtension

	Install    LifecycleFunc
	Uninstall  LifecycleFunc
	Activate   LifecycleFunc
	Deactivate LifecycleFunc
}

// Status 插件运行状态
type Status struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Active    bool     `json:"active"`
	Installed bool     `json:"installed"`
	HasErrors bool     `json:"hasErrors"`
	Errors    []string `json:"errors"`
	LastError string   `json:"lastError,omitempty"`
}

// Clone 返回状态副本
func (s Status) Clone() Status {
	s.Errors = append([]string{}, s.Errors...)
	return s
}

// RecordError 记录一条错误
func (s *Status) RecordError(err error) {
	if err == nil {
		return
	}
	s.HasErrors = true
	s.Errors = append(s.Errors, err.Error())
	s.LastError = err.Error()
}

// Environment 宿主提供给插件的运行环境，例如数据库、缓存句柄
type Environment map[string]any

// Get 读取环境条目
func (e Environment) Get(key string) (any, bool) {
	v, ok := e[key]
	return v, ok
}

// ServiceLocator 按插件和服务名查找服务
type ServiceLocator interface {
	GetService(plugin, name string) (any, bool)
}

// Context 插件生命周期回调收到的上下文
type Context struct {
	Env      Environment
	Config   Config
	Hooks    *hooks.Scope
	Logger   logging.PluginLogger
	Services ServiceLocator
}

// Settings 将插件配置中的额外字段解码到out
func (pc *Context) Settings(out any) error {
	return DecodeSettings(pc.Config, out)
}
