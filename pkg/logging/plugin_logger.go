package logging

import (
	"github.com/hashicorp/go-hclog"
)

// PluginLogger 提供给插件上下文的日志接口
type PluginLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, err error, args ...interface{})
	// Named 返回带子名称的日志
	Named(name string) PluginLogger
}

type pluginLogger struct {
	hc hclog.Logger
}

// NewPluginLogger 创建绑定到插件名称的日志
func NewPluginLogger(base hclog.Logger, plugin string) PluginLogger {
	if base == nil {
		base = hclog.NewNullLogger()
	}
	return &pluginLogger{hc: base.Named("plugin").With("plugin", plugin)}
}

func (l *pluginLogger) Debug(msg string, args ...interface{}) { l.hc.Debug(msg, args...) }
func (l *pluginLogger) Info(msg string, args ...interface{})  { l.hc.Info(msg, args...) }
func (l *pluginLogger) Warn(msg string, args ...interface{})  { l.hc.Warn(msg, args...) }

func (l *pluginLogger) Error(msg string, err error, args ...interface{}) {
	if err != nil {
		args = append(args, "error", err)
	}
	l.hc.Error(msg, args...)
}

func (l *pluginLogger) Named(name string) PluginLogger {
	return &pluginLogger{hc: l.hc.Named(name)}
}
