package hooks

import "strings"

// 宿主预定义的钩子名称
const (
	AppInit     = "app:init"
	AppReady    = "app:ready"
	AppShutdown = "app:shutdown"

	RequestStart = "request:start"
	RequestEnd   = "request:end"
	RequestError = "request:error"

	AuthLogin    = "auth:login"
	AuthLogout   = "auth:logout"
	AuthRegister = "auth:register"
	UserLogin    = "user:login"
	UserLogout   = "user:logout"

	ContentCreate  = "content:create"
	ContentUpdate  = "content:update"
	ContentDelete  = "content:delete"
	ContentPublish = "content:publish"
	ContentSave    = "content:save"

	MediaUpload    = "media:upload"
	MediaDelete    = "media:delete"
	MediaTransform = "media:transform"

	PluginInstall    = "plugin:install"
	PluginUninstall  = "plugin:uninstall"
	PluginActivate   = "plugin:activate"
	PluginDeactivate = "plugin:deactivate"

	AdminMenuRender = "admin:menu:render"
	AdminPageRender = "admin:page:render"

	DBMigrate = "db:migrate"
	DBSeed    = "db:seed"
)

// CreateHookName 组合命名空间和事件名
func CreateHookName(namespace, event string) string {
	return namespace + ":" + event
}

// ParseHookName 拆分钩子名称，没有命名空间时namespace为空
func ParseHookName(name string) (namespace, event string) {
	ns, ev, ok := strings.Cut(name, ":")
	if !ok {
		return "", name
	}
	return ns, ev
}

// IsNamespaced 钩子名称是否带命名空间
func IsNamespaced(name string) bool {
	ns, ev := ParseHookName(name)
	return ns != "" && ev != ""
}
