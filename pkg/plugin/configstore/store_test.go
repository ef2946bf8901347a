package configstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheSettings struct {
	TTL  int      `yaml:"ttl"`
	Tags []string `yaml:"tags"`
}

func sampleDocument() plugin.ConfigDocument {
	return plugin.ConfigDocument{Plugins: []plugin.Config{
		{
			Name:        "search",
			Enabled:     false,
			InstalledAt: 1700000000000,
		},
		{
			Name:        "cache",
			Enabled:     true,
			InstalledAt: 1700000000001,
			UpdatedAt:   1700000000002,
			Extra: map[string]any{
				"ttl":  30,
				"tags": []any{"a", "b"},
			},
		},
	}}
}

func assertSampleDocument(t *testing.T, doc plugin.ConfigDocument) {
	t.Helper()
	require.Len(t, doc.Plugins, 2)

	// 保存时按名称排序
	cache, search := doc.Plugins[0], doc.Plugins[1]
	assert.Equal(t, "cache", cache.Name)
	assert.True(t, cache.Enabled)
	assert.Equal(t, int64(1700000000001), cache.InstalledAt)
	assert.Equal(t, int64(1700000000002), cache.UpdatedAt)

	var settings cacheSettings
	require.NoError(t, plugin.DecodeSettings(cache, &settings))
	assert.Equal(t, 30, settings.TTL)
	assert.Equal(t, []string{"a", "b"}, settings.Tags)

	assert.Equal(t, "search", search.Name)
	assert.False(t, search.Enabled)
	assert.Equal(t, int64(1700000000000), search.InstalledAt)
	assert.Zero(t, search.UpdatedAt)
	assert.Empty(t, search.Extra)
}

func TestFileStoreFormats(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml", ".json", ".toml", ".hcl"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plugins"+ext)
			store, err := NewFileStore(path)
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			require.NoError(t, store.Save(ctx, sampleDocument()))

			doc, err := store.Load(ctx)
			require.NoError(t, err)
			assertSampleDocument(t, doc)

			// 没有残留的临时文件
			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestFileStoreReadsHandWrittenFiles(t *testing.T) {
	files := map[string]string{
		"plugins.yaml": `plugins:
  - name: cache
    enabled: true
    installedAt: 1700000000001
    updatedAt: 1700000000002
    ttl: 30
    tags: [a, b]
  - name: search
    enabled: false
    installedAt: 1700000000000
`,
		"plugins.json": `{"plugins": [
  {"name": "cache", "enabled": true, "installedAt": 1700000000001, "updatedAt": 1700000000002, "ttl": 30, "tags": ["a", "b"]},
  {"name": "search", "enabled": false, "installedAt": 1700000000000}
]}`,
		"plugins.toml": `[[plugins]]
name = "cache"
enabled = true
installedAt = 1700000000001
updatedAt = 1700000000002
ttl = 30
tags = ["a", "b"]

[[plugins]]
name = "search"
enabled = false
installedAt = 1700000000000
`,
		"plugins.hcl": `plugin "cache" {
  enabled      = true
  installed_at = 1700000000001
  updated_at   = 1700000000002
  settings = {
    ttl  = 30
    tags = ["a", "b"]
  }
}

plugin "search" {
  installed_at = 1700000000000
}
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			store, err := NewFileStore(path)
			require.NoError(t, err)
			doc, err := store.Load(context.Background())
			require.NoError(t, err)
			assertSampleDocument(t, doc)
		})
	}
}

func TestFileStoreMissingAndEmptyFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Plugins)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	store, err = NewFileStore(empty)
	require.NoError(t, err)
	doc, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Plugins)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "plugins.yaml")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleDocument()))
	assert.FileExists(t, path)
}

func TestFileStoreErrors(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)

	_, err = NewFileStore("plugins.ini")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`plugin "x" {`), 0644))
	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "settings.hcl")
	require.NoError(t, os.WriteFile(path, []byte("plugin \"x\" {\n  settings = \"nope\"\n}\n"), 0644))
	store, err = NewFileStore(path)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.toml")

	store, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = Open(context.Background(), Options{Backend: "FILE", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = Open(context.Background(), Options{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: BackendMySQL})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: BackendMySQL, MySQL: MySQLOptions{DSN: "not a dsn"}})
	assert.Error(t, err)
}

func TestCtyConversion(t *testing.T) {
	in := map[string]any{
		"count":   3,
		"ratio":   0.5,
		"name":    "x",
		"on":      true,
		"nothing": nil,
		"list":    []string{"a"},
		"nested":  map[string]any{"deep": int64(7)},
		"empty":   map[string]any{},
	}
	val, err := toCty(in)
	require.NoError(t, err)

	out, err := fromCty(val)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, int64(3), m["count"])
	assert.Equal(t, 0.5, m["ratio"])
	assert.Equal(t, "x", m["name"])
	assert.Equal(t, true, m["on"])
	assert.Nil(t, m["nothing"])
	assert.Equal(t, []any{"a"}, m["list"])
	assert.Equal(t, map[string]any{"deep": int64(7)}, m["nested"])
	assert.Equal(t, map[string]any{}, m["empty"])

	_, err = toCty(map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}
