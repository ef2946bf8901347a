// Package core 组装插件宿主：配置、日志、配置存储、插件管理器和Web控制台
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/lomehong/pluginkit/pkg/config"
	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/logging"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
	"github.com/lomehong/pluginkit/pkg/plugin/manager"
	"github.com/lomehong/pluginkit/pkg/plugin/registry"
	"github.com/lomehong/pluginkit/pkg/webconsole"
)

// Version 宿主版本
const Version = "1.0.0"

// Factory 创建内置插件
type Factory func() *plugin.Plugin

// Builtin 内置插件
type Builtin struct {
	Name string
	New  Factory
}

// App 是插件宿主的核心
type App struct {
	configManager *config.Manager
	config        *config.Config
	builtins      []Builtin

	log    *logging.Logger
	logger hclog.Logger

	store      configstore.Store
	dispatcher *hooks.Dispatcher
	registry   *registry.Registry
	manager    *manager.Manager
	console    *webconsole.Console

	mu          sync.Mutex
	initialized bool
	running     bool
	startTime   time.Time
}

// NewApp 创建一个新的应用程序实例
func NewApp(configFile string, builtins ...Builtin) *App {
	return &App{
		configManager: config.NewManager(configFile, nil),
		builtins:      builtins,
		logger:        hclog.NewNullLogger(),
	}
}

// Init 读取配置、打开存储并安装内置插件，不启动HTTP服务
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	cfg, err := a.configManager.Load()
	if err != nil {
		return err
	}
	a.config = cfg

	log, err := logging.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("创建日志失败: %w", err)
	}
	a.log = log
	a.logger = log.HC().Named("app")

	store, err := configstore.Open(ctx, cfg.Plugins.StoreOptions())
	if err != nil {
		log.Close()
		return fmt.Errorf("打开配置存储失败: %w", err)
	}
	a.store = store

	hostVersion := cfg.Plugins.HostVersion
	if hostVersion == "" {
		hostVersion = Version
	}
	a.dispatcher = hooks.NewDispatcher(log.HC())
	a.registry = registry.New(log.HC())
	a.manager = manager.New(a.registry, a.dispatcher,
		manager.WithLogger(log.HC()),
		manager.WithHostVersion(hostVersion),
	)

	stored, err := store.Load(ctx)
	if err != nil {
		a.logger.Warn("读取插件配置失败，使用默认配置", "error", err)
	} else {
		a.registry.ImportConfig(stored)
	}

	env := plugin.Environment{
		"version": Version,
		"config":  cfg,
	}
	if err := a.manager.Initialize(ctx, env); err != nil {
		return fmt.Errorf("初始化插件管理器失败: %w", err)
	}

	declared := cfg.Plugins.PluginPatches()
	for _, b := range a.builtins {
		var override *plugin.ConfigPatch
		if patch, ok := declared[b.Name]; ok {
			override = &patch
		}
		if err := a.manager.Install(ctx, b.New(), override); err != nil {
			a.logger.Error("安装内置插件失败", "plugin", b.Name, "error", err)
		}
	}

	if err := a.manager.LoadPlugins(ctx, nil); err != nil {
		return err
	}

	a.initialized = true
	a.logger.Info("应用程序已初始化", "plugins", len(a.registry.GetAll()), "active", len(a.registry.GetActive()))
	return nil
}

// Start 启动Web控制台，触发app:ready并开始监视配置文件
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return fmt.Errorf("应用程序未初始化")
	}
	if a.running {
		return fmt.Errorf("应用程序已在运行")
	}

	console, err := webconsole.New(webconsole.Config{
		Address:         a.config.Server.Address,
		APIPrefix:       a.config.Server.APIPrefix,
		Debug:           a.config.Server.Debug,
		ShutdownTimeout: a.config.Server.ShutdownTimeout,
		AllowOrigins:    []string{"*"},
	}, a.manager,
		webconsole.WithLogger(a.log.HC()),
		webconsole.WithAccessLogger(a.log.Access()),
		webconsole.WithStore(a.store),
	)
	if err != nil {
		return err
	}
	if err := console.Start(); err != nil {
		return err
	}
	a.console = console

	if err := a.manager.Ready(ctx); err != nil {
		a.logger.Error("app:ready钩子执行失败", "error", err)
	}

	a.configManager.Watch(func(cfg *config.Config, event fsnotify.Event) {
		a.reload(cfg)
	})

	a.running = true
	a.startTime = time.Now()
	a.logger.Info("应用程序已启动", "address", console.Addr())
	return nil
}

// reload 配置文件变更后调整日志级别并加载新启用的插件
func (a *App) reload(cfg *config.Config) {
	if !a.IsRunning() {
		return
	}
	a.log.HC().SetLevel(logging.ToHCLogLevel(cfg.Log.Level))
	if err := a.manager.LoadPlugins(context.Background(), cfg.Plugins.PluginConfigs()); err != nil {
		a.logger.Error("重新加载插件失败", "error", err)
	}
}

// Stop 停止应用程序：保存插件配置、关闭控制台、停用插件
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}

	if a.console != nil {
		if err := a.console.Stop(ctx); err != nil {
			a.logger.Error("停止Web控制台失败", "error", err)
		}
		a.console = nil
	}

	if err := a.store.Save(ctx, a.registry.ExportConfig()); err != nil {
		a.logger.Error("保存插件配置失败", "error", err)
	}

	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Error("关闭插件管理器失败", "error", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("关闭配置存储失败", "error", err)
	}

	if a.running {
		a.logger.Info("应用程序已停止", "uptime", time.Since(a.startTime).String())
	}
	a.running = false
	a.initialized = false
	return a.log.Close()
}

// Run 启动并阻塞直到ctx结束或收到终止信号
func (a *App) Run(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Stop(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.logger.Info("收到信号，开始优雅终止", "signal", sig.String())
	case <-ctx.Done():
	}

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Stop(stopCtx)
}

// IsRunning 是否正在运行
func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Config 当前配置
func (a *App) Config() *config.Config {
	return a.config
}

// Manager 插件管理器
func (a *App) Manager() *manager.Manager {
	return a.manager
}

// Store 配置存储
func (a *App) Store() configstore.Store {
	return a.store
}

// Console Web控制台，未启动时为nil
func (a *App) Console() *webconsole.Console {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.console
}
