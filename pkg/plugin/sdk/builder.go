// Package sdk 提供构建插件描述的流式API
package sdk

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lomehong/pluginkit/pkg/errors"
	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

// PluginBuilder 用于构建插件
type PluginBuilder struct {
	p         plugin.Plugin
	validator plugin.Validator
}

// NewPluginBuilder 创建一个新的插件构建器，默认版本为1.0.0
func NewPluginBuilder(name string) *PluginBuilder {
	return &PluginBuilder{
		p:         plugin.Plugin{Name: name, Version: "1.0.0"},
		validator: plugin.NewDefaultValidator(),
	}
}

// WithVersion 设置插件版本
func (b *PluginBuilder) WithVersion(version string) *PluginBuilder {
	b.p.Version = version
	return b
}

// WithDescription 设置插件描述
func (b *PluginBuilder) WithDescription(description string) *PluginBuilder {
	b.p.Description = description
	return b
}

// WithAuthor 设置插件作者
func (b *PluginBuilder) WithAuthor(author string) *PluginBuilder {
	b.p.Author = author
	return b
}

// WithLicense 设置许可证
func (b *PluginBuilder) WithLicense(license string) *PluginBuilder {
	b.p.License = license
	return b
}

// WithCompatibility 设置宿主版本约束
func (b *PluginBuilder) WithCompatibility(constraint string) *PluginBuilder {
	b.p.Compatibility = constraint
	return b
}

// WithValidator 替换Build使用的验证器，nil表示不验证
func (b *PluginBuilder) WithValidator(v plugin.Validator) *PluginBuilder {
	b.validator = v
	return b
}

// DependsOn 添加依赖
func (b *PluginBuilder) DependsOn(names ...string) *PluginBuilder {
	b.p.Dependencies = append(b.p.Dependencies, names...)
	return b
}

// AddHook 添加钩子处理器
func (b *PluginBuilder) AddHook(name string, handler hooks.Handler, priority int) *PluginBuilder {
	b.p.Hooks = append(b.p.Hooks, plugin.HookExtension{Name: name, Handler: handler, Priority: plugin.Priority(priority)})
	return b
}

// AddRoute 添加路由
func (b *PluginBuilder) AddRoute(path string, handler http.Handler) *PluginBuilder {
	b.p.Routes = append(b.p.Routes, plugin.RouteExtension{Path: path, Handler: handler})
	return b
}

// AddMiddleware 添加中间件
func (b *PluginBuilder) AddMiddleware(name string, handler mux.MiddlewareFunc, priority int, global bool) *PluginBuilder {
	b.p.Middleware = append(b.p.Middleware, plugin.MiddlewareExtension{
		Name:     name,
		Handler:  handler,
		Priority: plugin.Priority(priority),
		Global:   global,
	})
	return b
}

// AddService 添加服务
func (b *PluginBuilder) AddService(name string, impl any) *PluginBuilder {
	b.p.Services = append(b.p.Services, plugin.ServiceExtension{Name: name, Implementation: impl})
	return b
}

// AddModel 添加数据模型
func (b *PluginBuilder) AddModel(name, table string, migrations ...string) *PluginBuilder {
	b.p.Models = append(b.p.Models, plugin.ModelExtension{Name: name, TableName: table, Migrations: migrations})
	return b
}

// OnInstall 设置安装回调
func (b *PluginBuilder) OnInstall(fn plugin.LifecycleFunc) *PluginBuilder {
	b.p.Install = fn
	return b
}

// OnUninstall 设置卸载回调
func (b *PluginBuilder) OnUninstall(fn plugin.LifecycleFunc) *PluginBuilder {
	b.p.Uninstall = fn
	return b
}

// OnActivate 设置激活回调
func (b *PluginBuilder) OnActivate(fn plugin.LifecycleFunc) *PluginBuilder {
	b.p.Activate = fn
	return b
}

// OnDeactivate 设置停用回调
func (b *PluginBuilder) OnDeactivate(fn plugin.LifecycleFunc) *PluginBuilder {
	b.p.Deactivate = fn
	return b
}

// Build 验证并返回插件描述
func (b *PluginBuilder) Build() (*plugin.Plugin, error) {
	p := b.p
	p.Dependencies = append([]string(nil), b.p.Dependencies...)
	p.Hooks = append([]plugin.HookExtension(nil), b.p.Hooks...)
	p.Routes = append([]plugin.RouteExtension(nil), b.p.Routes...)
	p.Middleware = append([]plugin.MiddlewareExtension(nil), b.p.Middleware...)
	p.Services = append([]plugin.ServiceExtension(nil), b.p.Services...)
	p.Models = append([]plugin.ModelExtension(nil), b.p.Models...)

	if b.validator != nil {
		if res := b.validator.Validate(&p); !res.Valid {
			return nil, errors.NewValidationError(p.Name, res.Errors)
		}
	}
	return &p, nil
}

// MustBuild 与Build相同，验证失败时panic
func (b *PluginBuilder) MustBuild() *plugin.Plugin {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
