// Package hello 示例插件，演示路由、全局中间件和生命周期回调
package hello

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/sdk"
)

const (
	// Name 插件名称
	Name = "hello"
	// PoweredByHeader 全局中间件添加的响应头
	PoweredByHeader = "X-Powered-By"
)

// Settings 插件设置
type Settings struct {
	Greeting string `yaml:"greeting"`
}

// Plugin 示例插件
type Plugin struct {
	mu        sync.RWMutex
	greeting  string
	startTime time.Time
}

// NewPlugin 创建示例插件
func NewPlugin() *Plugin {
	return &Plugin{greeting: "Hello from Go!"}
}

func (p *Plugin) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", p.hello).Methods(http.MethodGet)
	r.HandleFunc("/echo", p.echo).Methods(http.MethodGet)
	r.HandleFunc("/info", p.info).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (p *Plugin) hello(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	greeting := p.greeting
	p.mu.RUnlock()
	writeJSON(w, map[string]any{
		"message":   greeting,
		"timestamp": time.Now().Unix(),
	})
}

func (p *Plugin) echo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"message":   r.URL.Query().Get("message"),
		"timestamp": time.Now().Unix(),
	})
}

func (p *Plugin) info(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p.mu.RLock()
	uptime := time.Since(p.startTime)
	p.mu.RUnlock()

	writeJSON(w, map[string]any{
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"num_cpu":        runtime.NumCPU(),
		"go_version":     runtime.Version(),
		"num_goroutines": runtime.NumGoroutine(),
		"uptime":         uptime.String(),
		"memory_alloc":   ms.Alloc,
		"memory_sys":     ms.Sys,
		"memory_num_gc":  ms.NumGC,
	})
}

// poweredBy 为宿主的所有响应添加X-Powered-By
func poweredBy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(PoweredByHeader, "pluginkit")
		next.ServeHTTP(w, r)
	})
}

// Build 生成插件描述
func (p *Plugin) Build() *plugin.Plugin {
	return sdk.NewPluginBuilder(Name).
		WithVersion("1.0.0").
		WithDescription("示例插件").
		WithAuthor("pluginkit").
		WithLicense("MIT").
		AddRoute("/hello", p.router()).
		AddMiddleware("powered-by", poweredBy, plugin.DefaultPriority, true).
		OnInstall(func(ctx context.Context, pc *plugin.Context) error {
			var s Settings
			if err := pc.Settings(&s); err != nil {
				return err
			}
			if s.Greeting != "" {
				p.mu.Lock()
				p.greeting = s.Greeting
				p.mu.Unlock()
			}
			return nil
		}).
		OnActivate(func(ctx context.Context, pc *plugin.Context) error {
			p.mu.Lock()
			p.startTime = time.Now()
			p.mu.Unlock()
			pc.Logger.Info("启动示例插件")
			return nil
		}).
		OnDeactivate(func(ctx context.Context, pc *plugin.Context) error {
			p.mu.RLock()
			uptime := time.Since(p.startTime)
			p.mu.RUnlock()
			pc.Logger.Info("停止示例插件", "uptime", uptime.String())
			return nil
		}).
		MustBuild()
}

// New 创建示例插件
func New() *plugin.Plugin {
	return NewPlugin().Build()
}
