package manager

import (
	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

// InitPayload app:init的载荷
type InitPayload struct {
	Env plugin.Environment
}

// ReadyPayload app:ready的载荷
type ReadyPayload struct {
	Plugins []string // 已激活的插件
}

// ShutdownPayload app:shutdown的载荷
type ShutdownPayload struct {
	Plugins []string // 即将停用的插件
}

// PluginEvent 插件生命周期钩子的载荷
type PluginEvent struct {
	Plugin  string `json:"plugin"`
	Version string `json:"version"`
}

// 宿主触发的类型化钩子
var (
	AppInitHook          = hooks.NewHook[*InitPayload](hooks.AppInit)
	AppReadyHook         = hooks.NewHook[*ReadyPayload](hooks.AppReady)
	AppShutdownHook      = hooks.NewHook[*ShutdownPayload](hooks.AppShutdown)
	PluginInstallHook    = hooks.NewHook[*PluginEvent](hooks.PluginInstall)
	PluginUninstallHook  = hooks.NewHook[*PluginEvent](hooks.PluginUninstall)
	PluginActivateHook   = hooks.NewHook[*PluginEvent](hooks.PluginActivate)
	PluginDeactivateHook = hooks.NewHook[*PluginEvent](hooks.PluginDeactivate)
)

// LifecycleHooks 插件生命周期钩子名称
var LifecycleHooks = []string{
	hooks.PluginInstall,
	hooks.PluginUninstall,
	hooks.PluginActivate,
	hooks.PluginDeactivate,
}
