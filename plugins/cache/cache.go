// Package cache 内置的内存缓存插件，以服务的形式提供给其他插件
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/sdk"
	"github.com/lomehong/pluginkit/plugins/content"
)

const (
	// Name 插件名称
	Name = "cache"
	// ServiceName 缓存服务名称
	ServiceName = "store"
)

// Settings 插件设置
type Settings struct {
	TTL        int `yaml:"ttl"`         // 秒，0表示不过期
	MaxEntries int `yaml:"max_entries"` // 0表示不限制
}

type item struct {
	value     any
	expiresAt time.Time
}

// Cache 内存缓存
type Cache struct {
	mu         sync.RWMutex
	items      map[string]item
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache 创建缓存
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]item),
		now:   time.Now,
	}
}

// Configure 应用设置
func (c *Cache) Configure(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = time.Duration(s.TTL) * time.Second
	c.maxEntries = s.MaxEntries
}

// Get 读取缓存，过期条目视为不存在
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return it.value, true
}

// Set 写入缓存，超过容量时丢弃最早过期的条目
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := item{value: value}
	if c.ttl > 0 {
		it.expiresAt = c.now().Add(c.ttl)
	}
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}
	c.items[key] = it
}

func (c *Cache) evictLocked() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for k, it := range c.items {
		if !found || it.expiresAt.Before(oldest) {
			victim, oldest, found = k, it.expiresAt, true
		}
	}
	if found {
		delete(c.items, victim)
	}
}

// Delete 删除条目
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeletePrefix 删除所有以prefix开头的条目，返回删除数量
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Clear 清空缓存
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
}

// Len 条目数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// ContentKey 文档在缓存中的键
func ContentKey(id string) string {
	return "content:" + id
}

// New 创建缓存插件
func New() *plugin.Plugin {
	store := NewCache()

	invalidate := func(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
		doc, err := content.FromHook(data)
		if err != nil {
			return data, err
		}
		store.Delete(ContentKey(doc.ID))
		store.DeletePrefix("search:")
		return data, nil
	}

	return sdk.NewPluginBuilder(Name).
		WithVersion("1.2.0").
		WithDescription("内存缓存，内容保存或删除时失效").
		WithAuthor("pluginkit").
		WithLicense("MIT").
		WithCompatibility(">=1.0.0").
		AddService(ServiceName, store).
		AddHook(hooks.ContentSave, invalidate, 5).
		AddHook(hooks.ContentDelete, invalidate, 5).
		OnInstall(func(ctx context.Context, pc *plugin.Context) error {
			var s Settings
			if err := pc.Settings(&s); err != nil {
				return err
			}
			store.Configure(s)
			pc.Logger.Info("缓存已配置", "ttl", s.TTL, "max_entries", s.MaxEntries)
			return nil
		}).
		OnDeactivate(func(ctx context.Context, pc *plugin.Context) error {
			store.Clear()
			return nil
		}).
		MustBuild()
}
