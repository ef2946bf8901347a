package configstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lomehong/pluginkit/pkg/plugin"
)

// 后端类型
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendMySQL = "mysql"
)

// Store 插件配置的持久化后端
type Store interface {
	Load(ctx context.Context) (plugin.ConfigDocument, error)
	Save(ctx context.Context, doc plugin.ConfigDocument) error
	Close() error
}

// RedisOptions Redis后端参数
type RedisOptions struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MySQLOptions MySQL后端参数
type MySQLOptions struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Options 打开存储的参数
type Options struct {
	Backend string       `mapstructure:"store"`
	Path    string       `mapstructure:"config_file"`
	Redis   RedisOptions `mapstructure:"redis"`
	MySQL   MySQLOptions `mapstructure:"mysql"`
}

// Open 根据Backend打开对应的存储
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendMySQL:
		return NewMySQLStore(ctx, opts.MySQL)
	default:
		return nil, fmt.Errorf("未知的配置存储后端: %s", opts.Backend)
	}
}

// sortDocument 按插件名排序，保证各后端导出顺序一致
func sortDocument(doc plugin.ConfigDocument) plugin.ConfigDocument {
	sort.SliceStable(doc.Plugins, func(i, j int) bool {
		return doc.Plugins[i].Name < doc.Plugins[j].Name
	})
	return doc
}
