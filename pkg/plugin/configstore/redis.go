package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey 默认的哈希键
const DefaultRedisKey = "pluginkit:plugins"

// RedisStore 将每个插件配置以JSON保存在一个Redis哈希中
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 连接Redis并创建存储
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, fmt.Errorf("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.Key), nil
}

// NewRedisStoreWithClient 使用已有客户端创建存储
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load 读取哈希中的全部插件配置
func (s *RedisStore) Load(ctx context.Context) (plugin.ConfigDocument, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return plugin.ConfigDocument{}, fmt.Errorf("读取 Redis 配置失败: %w", err)
	}
	doc := plugin.ConfigDocument{Plugins: make([]plugin.Config, 0, len(entries))}
	for name, raw := range entries {
		var cfg plugin.Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return plugin.ConfigDocument{}, fmt.Errorf("解析插件 %s 的配置失败: %w", name, err)
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
		doc.Plugins = append(doc.Plugins, cfg)
	}
	return sortDocument(doc), nil
}

// Save 在一个事务中替换整个哈希
func (s *RedisStore) Save(ctx context.Context, doc plugin.ConfigDocument) error {
	values := make(map[string]any, len(doc.Plugins))
	for _, cfg := range doc.Plugins {
		if cfg.Name == "" {
			continue
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("编码插件 %s 的配置失败: %w", cfg.Name, err)
		}
		values[cfg.Name] = string(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入 Redis 配置失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}
