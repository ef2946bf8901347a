package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/pluginkit/pkg/logging"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 PLUGINKIT_SERVER_ADDRESS
const EnvPrefix = "PLUGINKIT"

// ServerConfig 管理控制台配置
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PluginEntry 宿主配置中声明的插件
type PluginEntry struct {
	Name     string         `mapstructure:"name"`
	Enabled  *bool          `mapstructure:"enabled"` // 未设置时视为启用
	Settings map[string]any `mapstructure:"settings"`
}

// PluginsConfig 插件相关配置
type PluginsConfig struct {
	HostVersion string                   `mapstructure:"host_version"`
	Store       string                   `mapstructure:"store"`
	ConfigFile  string                   `mapstructure:"config_file"`
	Redis       configstore.RedisOptions `mapstructure:"redis"`
	MySQL       configstore.MySQLOptions `mapstructure:"mysql"`
	Enabled     []PluginEntry            `mapstructure:"enabled"`
}

// Config 宿主配置
type Config struct {
	Log     logging.LogConfig `mapstructure:"log"`
	Server  ServerConfig      `mapstructure:"server"`
	Plugins PluginsConfig     `mapstructure:"plugins"`
}

// StoreOptions 配置存储参数
func (p PluginsConfig) StoreOptions() configstore.Options {
	return configstore.Options{
		Backend: p.Store,
		Path:    p.ConfigFile,
		Redis:   p.Redis,
		MySQL:   p.MySQL,
	}
}

// PluginConfigs 将声明的插件转换为插件配置
func (p PluginsConfig) PluginConfigs() []plugin.Config {
	configs := make([]plugin.Config, 0, len(p.Enabled))
	for _, entry := range p.Enabled {
		if entry.Name == "" {
			continue
		}
		cfg := plugin.Config{Name: entry.Name, Enabled: true}
		if entry.Enabled != nil {
			cfg.Enabled = *entry.Enabled
		}
		if len(entry.Settings) > 0 {
			cfg.Extra = make(map[string]any, len(entry.Settings))
			for k, v := range entry.Settings {
				cfg.Extra[k] = v
			}
		}
		configs = append(configs, cfg)
	}
	return configs
}

// PluginPatches 将声明的插件转换为安装时的配置覆盖
// 未设置enabled的条目不改变已保存的启用状态
func (p PluginsConfig) PluginPatches() map[string]plugin.ConfigPatch {
	patches := make(map[string]plugin.ConfigPatch, len(p.Enabled))
	for _, entry := range p.Enabled {
		if entry.Name == "" {
			continue
		}
		patch := plugin.ConfigPatch{}
		if entry.Enabled != nil {
			patch.Enabled = plugin.Bool(*entry.Enabled)
		}
		if len(entry.Settings) > 0 {
			patch.Extra = make(map[string]any, len(entry.Settings))
			for k, v := range entry.Settings {
				patch.Extra[k] = v
			}
		}
		patches[entry.Name] = patch
	}
	return patches
}

// Defaults 默认配置
func Defaults() map[string]interface{} {
	log := logging.DefaultLogConfig()
	return map[string]interface{}{
		"log.level":               string(log.Level),
		"log.format":              string(log.Format),
		"log.output":              string(log.Output),
		"log.file_path":           log.FilePath,
		"log.max_size":            log.MaxSize,
		"log.max_backups":         log.MaxBackups,
		"log.include_location":    log.IncludeLocation,
		"log.time_format":         log.TimeFormat,
		"server.address":          "127.0.0.1:8088",
		"server.api_prefix":       "/api",
		"server.debug":            false,
		"server.shutdown_timeout": "10s",
		"plugins.host_version":    "",
		"plugins.store":           configstore.BackendFile,
		"plugins.config_file":     "plugins.yaml",
		"plugins.redis.address":   "",
		"plugins.redis.password":  "",
		"plugins.redis.db":        0,
		"plugins.redis.key":       configstore.DefaultRedisKey,
		"plugins.mysql.dsn":       "",
		"plugins.mysql.table":     configstore.DefaultMySQLTable,
		"plugins.enabled":         []interface{}{},
	}
}

// Manager 宿主配置管理器
type Manager struct {
	v       *viper.Viper
	path    string
	logger  hclog.Logger
	mu      sync.RWMutex
	current *Config
}

// NewManager 创建配置管理器，path为空时在当前目录查找pluginkit.yaml
func NewManager(path string, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pluginkit")
		v.SetConfigType("yaml")
	}

	return &Manager{
		v:      v,
		path:   path,
		logger: logger.Named("config"),
	}
}

// Load 读取配置文件与环境变量，配置文件不存在时使用默认值
func (m *Manager) Load() (*Config, error) {
	if err := m.read(); err != nil {
		return nil, err
	}
	return m.decode()
}

func (m *Manager) read() error {
	if m.path != "" {
		if _, err := os.Stat(m.path); os.IsNotExist(err) {
			m.logger.Warn("配置文件不存在，使用默认配置", "path", m.path)
			return nil
		}
	}
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			m.logger.Debug("未找到配置文件，使用默认配置")
			return nil
		}
		return fmt.Errorf("无法读取配置文件: %w", err)
	}
	m.logger.Info("已加载配置文件", "path", m.v.ConfigFileUsed())
	return nil
}

func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	m.mu.Lock()
	m.current = &cfg
	m.mu.Unlock()
	return &cfg, nil
}

// Config 最近一次加载的配置
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Viper 底层viper实例
func (m *Manager) Viper() *viper.Viper {
	return m.v
}

// ConfigFileUsed 实际使用的配置文件
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Watch 监视配置文件，变更后重新解析并回调
func (m *Manager) Watch(onChange func(cfg *Config, event fsnotify.Event)) {
	m.v.OnConfigChange(func(event fsnotify.Event) {
		m.logger.Info("配置文件已变更", "path", event.Name, "op", event.Op.String())
		cfg, err := m.decode()
		if err != nil {
			m.logger.Error("重新加载配置失败", "error", err)
			return
		}
		if onChange != nil {
			onChange(cfg, event)
		}
	})
	m.v.WatchConfig()
}

// WriteDefault 将默认配置写入path
func WriteDefault(path string) error {
	v := viper.New()
	for k, val := range Defaults() {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("无法写入配置文件: %w", err)
	}
	return nil
}
