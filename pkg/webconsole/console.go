// Package webconsole 提供插件宿主的HTTP入口和管理API
package webconsole

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"

	"github.com/lomehong/pluginkit/pkg/health"
	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/logging"
	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
	"github.com/lomehong/pluginkit/pkg/plugin/manager"
)

// Option 控制台选项
type Option func(*Console)

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(c *Console) {
		c.logger = logger
	}
}

// WithAccessLogger 设置HTTP访问日志
func WithAccessLogger(logger zerolog.Logger) Option {
	return func(c *Console) {
		c.access = logger
	}
}

// WithStore 设置插件配置的持久化存储，管理操作成功后写回
func WithStore(store configstore.Store) Option {
	return func(c *Console) {
		c.store = store
	}
}

// Console 定义Web控制台
type Console struct {
	config  Config
	manager *manager.Manager
	store   configstore.Store

	engine  *gin.Engine
	handler http.Handler
	events  *eventHub
	health  *health.Registry

	logger hclog.Logger
	access zerolog.Logger

	// 串行化管理操作
	opMu sync.Mutex

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	started  bool
}

// New 创建Web控制台
func New(config Config, m *manager.Manager, opts ...Option) (*Console, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("无效的Web控制台配置: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("插件管理器不能为空")
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	c := &Console{
		config:  config,
		manager: m,
		engine:  gin.New(),
		logger:  hclog.NewNullLogger(),
		access:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = hclog.NewNullLogger()
	}
	c.logger = c.logger.Named("webconsole")

	c.health = health.NewRegistry(c.logger, 0)
	c.health.Register(health.PluginChecker(m))
	if c.store != nil {
		c.health.Register(health.StoreChecker(c.store))
	}

	c.events = newEventHub(c.logger)
	c.events.attach(m.Hooks(), manager.LifecycleHooks)

	c.setupMiddleware()
	c.setupRoutes()

	// 访问日志 -> request钩子 -> 全局插件中间件 -> gin
	c.handler = logging.AccessLog(c.access)(
		hooks.RequestMiddleware(m.Hooks())(
			c.globalMiddleware(c.engine),
		),
	)
	return c, nil
}

// Handler 返回完整的HTTP处理链
func (c *Console) Handler() http.Handler {
	return c.handler
}

// Health 健康检查注册表，可注册额外的检查器
func (c *Console) Health() *health.Registry {
	return c.health
}

// Start 启动Web控制台
func (c *Console) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("Web控制台已启动")
	}

	ln, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", c.config.Address, err)
	}
	c.listener = ln
	c.server = &http.Server{Handler: c.handler}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Web控制台运行失败", "error", err)
		}
	}(c.server)

	c.started = true
	c.logger.Info("Web控制台已启动", "address", ln.Addr().String(), "auth", c.config.Username != "")
	return nil
}

// Addr 实际监听地址，未启动时返回配置的地址
func (c *Console) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.config.Address
}

// Stop 停止Web控制台
func (c *Console) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.closeAll()
	c.events.detach(c.manager.Hooks())

	if !c.started {
		return nil
	}

	c.logger.Info("停止Web控制台")
	shutdownCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
	defer cancel()

	if err := c.server.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("Web控制台关闭失败", "error", err)
		return fmt.Errorf("Web控制台关闭失败: %w", err)
	}

	c.started = false
	c.listener = nil
	c.logger.Info("Web控制台已停止")
	return nil
}

// setupMiddleware 设置中间件
func (c *Console) setupMiddleware() {
	c.engine.Use(gin.Recovery())
	c.engine.Use(c.corsMiddleware())
	if c.config.RateLimit > 0 {
		c.engine.Use(c.rateLimitMiddleware())
	}
}

// setupRoutes 设置路由
func (c *Console) setupRoutes() {
	api := c.engine.Group(c.config.APIPrefix)
	if c.config.Username != "" {
		api.Use(c.authMiddleware())
	}
	{
		api.GET("/ping", c.ping)
		api.GET("/health", c.getHealth)

		plugins := api.Group("/plugins")
		{
			plugins.GET("", c.listPlugins)
			plugins.GET("/order", c.loadOrder)
			plugins.GET("/:name", c.getPlugin)
			plugins.POST("/:name/activate", c.activatePlugin)
			plugins.POST("/:name/deactivate", c.deactivatePlugin)
			plugins.DELETE("/:name", c.uninstallPlugin)
		}

		api.GET("/hooks", c.listHooks)
		api.GET("/stats", c.getStats)
		api.GET("/config", c.getConfig)
		api.PUT("/config", c.putConfig)
		api.GET("/events", c.events.serve)

		if c.config.Debug {
			c.setupDebugRoutes(api)
		}
	}

	routes := c.engine.Routes()
	c.logger.Debug("已注册的路由", "count", len(routes))

	// 其余请求交给已激活插件的路由
	c.engine.NoRoute(c.servePlugins)
}
