package webconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lomehong/pluginkit/pkg/hooks"
	"github.com/lomehong/pluginkit/pkg/plugin"
	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
	"github.com/lomehong/pluginkit/pkg/plugin/manager"
	"github.com/lomehong/pluginkit/pkg/plugin/registry"
	"github.com/lomehong/pluginkit/pkg/plugin/sdk"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	return cfg
}

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	m := manager.New(registry.New(nil), hooks.NewDispatcher(nil))
	require.NoError(t, m.Initialize(context.Background(), plugin.Environment{}))
	return m
}

func helloPlugin() *plugin.Plugin {
	return sdk.NewPluginBuilder("hello").
		WithDescription("says hi").
		AddRoute("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "hi "+r.URL.Path)
		})).
		AddMiddleware("header", func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Hello", "1")
				next.ServeHTTP(w, r)
			})
		}, 0, true).
		MustBuild()
}

func install(t *testing.T, m *manager.Manager, p *plugin.Plugin) {
	t.Helper()
	require.NoError(t, m.Install(context.Background(), p, nil))
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.APIPrefix = "/admin/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/admin", cfg.APIPrefix)

	bad := []func(c *Config){
		func(c *Config) { c.Address = "nope" },
		func(c *Config) { c.APIPrefix = "api" },
		func(c *Config) { c.APIPrefix = "/" },
		func(c *Config) { c.Username = "admin" },
		func(c *Config) { c.RateLimit = -1 },
	}
	for _, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate())
	}

	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestPluginRoutesAndGlobalMiddleware(t *testing.T) {
	m := newTestManager(t)
	install(t, m, helloPlugin())

	c, err := New(testConfig(), m)
	require.NoError(t, err)
	h := c.Handler()

	// 未激活时不可见
	rec := do(t, h, http.MethodGet, "/hello", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Hello"))

	require.NoError(t, m.Activate(context.Background(), "hello"))

	rec = do(t, h, http.MethodGet, "/hello/world", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi /world", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Hello"))

	// 全局中间件同样作用于管理API
	rec = do(t, h, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Hello"))

	rec = do(t, h, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "API not found")

	require.NoError(t, m.Deactivate(context.Background(), "hello"))
	rec = do(t, h, http.MethodGet, "/hello", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Hello"))
}

func TestPluginHandlerStatusIsKept(t *testing.T) {
	m := newTestManager(t)
	p := sdk.NewPluginBuilder("teapot").
		AddRoute("/tea", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})).
		MustBuild()
	install(t, m, p)
	require.NoError(t, m.Activate(context.Background(), "teapot"))

	c, err := New(testConfig(), m)
	require.NoError(t, err)
	rec := do(t, c.Handler(), http.MethodGet, "/tea", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestPluginAPI(t *testing.T) {
	m := newTestManager(t)
	install(t, m, sdk.NewPluginBuilder("base").MustBuild())
	install(t, m, sdk.NewPluginBuilder("child").DependsOn("base").MustBuild())

	c, err := New(testConfig(), m)
	require.NoError(t, err)
	h := c.Handler()

	rec := do(t, h, http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []PluginInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "base", list[0].Name)
	assert.Equal(t, []string{"child"}, list[0].Dependents)
	assert.Equal(t, []string{"base"}, list[1].Dependencies)
	assert.True(t, list[1].Config.Enabled)

	rec = do(t, h, http.MethodGet, "/api/plugins/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/plugins/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var order struct {
		Order []string            `json:"order"`
		Graph map[string][]string `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, []string{"base", "child"}, order.Order)
	assert.Equal(t, []string{"base"}, order.Graph["child"])

	// 激活child会先激活base
	rec = do(t, h, http.MethodPost, "/api/plugins/child/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st plugin.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Active)
	assert.True(t, m.GetStatus("base").Active)

	rec = do(t, h, http.MethodPost, "/api/plugins/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// base仍被依赖
	rec = do(t, h, http.MethodDelete, "/api/plugins/base", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 停用base会先停用child，并记录到配置
	rec = do(t, h, http.MethodPost, "/api/plugins/base/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, m.GetStatus("child").Active)
	cfg, ok := m.Registry().GetConfig("base")
	require.True(t, ok)
	assert.False(t, cfg.Enabled)

	rec = do(t, h, http.MethodDelete, "/api/plugins/child", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, m.Registry().Has("child"))

	rec = do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(t, h, http.MethodGet, "/api/hooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), hooks.PluginActivate)
}

func TestConfigAPIPersists(t *testing.T) {
	m := newTestManager(t)
	install(t, m, sdk.NewPluginBuilder("cache").MustBuild())

	path := filepath.Join(t.TempDir(), "plugins.json")
	store, err := configstore.NewFileStore(path)
	require.NoError(t, err)

	c, err := New(testConfig(), m, WithStore(store))
	require.NoError(t, err)
	h := c.Handler()

	body := `{"plugins":[{"name":"cache","enabled":false,"installedAt":5,"ttl":60},{"enabled":true}]}`
	rec := do(t, h, http.MethodPut, "/api/config", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg, ok := m.Registry().GetConfig("cache")
	require.True(t, ok)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, int64(5), cfg.InstalledAt)
	assert.EqualValues(t, 60, cfg.Extra["ttl"])

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, saved.Plugins, 1)
	assert.Equal(t, "cache", saved.Plugins[0].Name)

	rec = do(t, h, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc plugin.ConfigDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Plugins, 1)
	assert.False(t, doc.Plugins[0].Enabled)

	rec = do(t, h, http.MethodPut, "/api/config", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestHooks(t *testing.T) {
	m := newTestManager(t)
	d := m.Hooks()

	var (
		mu     sync.Mutex
		status int
		path   string
	)
	d.Register(hooks.RequestStart, func(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
		r := data.(*http.Request)
		r2 := r.Clone(r.Context())
		r2.Header.Set("X-Seen", "yes")
		return r2, nil
	})
	d.Register(hooks.RequestEnd, func(ctx context.Context, data any, hc *hooks.HookContext) (any, error) {
		end := data.(*hooks.RequestEndPayload)
		mu.Lock()
		status = end.Status
		path = end.Request.Header.Get("X-Seen")
		mu.Unlock()
		return data, nil
	})

	c, err := New(testConfig(), m)
	require.NoError(t, err)

	rec := do(t, c.Handler(), http.MethodGet, "/api/plugins/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "yes", path)
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"

	c, err := New(cfg, newTestManager(t))
	require.NoError(t, err)
	h := c.Handler()

	rec := do(t, h, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1

	c, err := New(cfg, newTestManager(t))
	require.NoError(t, err)
	h := c.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/api/ping", nil).Code)
}

func TestCORS(t *testing.T) {
	c, err := New(testConfig(), newTestManager(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/plugins", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventStream(t *testing.T) {
	m := newTestManager(t)
	install(t, m, helloPlugin())

	c, err := New(testConfig(), m)
	require.NoError(t, err)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return c.events.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/plugins/hello/activate", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Hook string               `json:"hook"`
		Data manager.PluginEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, hooks.PluginActivate, ev.Hook)
	assert.Equal(t, "hello", ev.Data.Plugin)
	assert.Equal(t, "1.0.0", ev.Data.Version)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 0, c.events.clientCount())
	assert.Empty(t, m.Hooks().GetHooks(hooks.PluginActivate))
}

func TestStartStop(t *testing.T) {
	c, err := New(testConfig(), newTestManager(t))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	assert.Error(t, c.Start())

	resp, err := http.Get("http://" + c.Addr() + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

type brokenStore struct{}

func (brokenStore) Load(ctx context.Context) (plugin.ConfigDocument, error) {
	return plugin.ConfigDocument{}, assert.AnError
}
func (brokenStore) Save(ctx context.Context, doc plugin.ConfigDocument) error { return assert.AnError }
func (brokenStore) Close() error                                              { return nil }

func TestHealth(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	install(t, m, helloPlugin())
	install(t, m, sdk.NewPluginBuilder("flaky").
		OnActivate(func(ctx context.Context, pc *plugin.Context) error { return assert.AnError }).
		MustBuild())
	require.NoError(t, m.Activate(ctx, "hello"))

	c, err := New(testConfig(), m)
	require.NoError(t, err)

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	rec := do(t, c.Handler(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Status)

	// 激活失败的插件使状态降级
	require.Error(t, m.Activate(ctx, "flaky"))
	rec = do(t, c.Handler(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)

	broken, err := New(testConfig(), m, WithStore(brokenStore{}))
	require.NoError(t, err)
	rec = do(t, broken.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "unhealthy", report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "config_store", report.Checks[0].Name)
	assert.Equal(t, "plugins", report.Checks[1].Name)
}

func TestDebugRoutes(t *testing.T) {
	m := newTestManager(t)

	c, err := New(testConfig(), m)
	require.NoError(t, err)
	rec := do(t, c.Handler(), http.MethodGet, "/api/debug/pprof/goroutine", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := testConfig()
	cfg.Debug = true
	c, err = New(cfg, m)
	require.NoError(t, err)

	rec = do(t, c.Handler(), http.MethodGet, "/api/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = do(t, c.Handler(), http.MethodGet, "/api/debug/pprof/goroutine?debug=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine profile")
}
