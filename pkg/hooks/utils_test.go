package hooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lomehong/pluginkit/pkg/errors"
)

type article struct {
	Title string
	Slug  string
}

func TestTypedHooks(t *testing.T) {
	d := NewDispatcher(nil)
	save := NewHook[*article](ContentSave)

	RegisterTyped(d, save, func(ctx context.Context, a *article, hc *HookContext) (*article, error) {
		a.Slug = strings.ToLower(strings.ReplaceAll(a.Title, " ", "-"))
		return a, nil
	})

	out, err := ExecuteTyped(context.Background(), d, save, &article{Title: "Hello World"})
	require.NoError(t, err)
	assert.Equal(t, "hello-world", out.Slug)
}

func TestTypedHookMismatchIsIsolated(t *testing.T) {
	d := NewDispatcher(nil)
	counter := NewHook[int]("counter")
	RegisterTyped(d, counter, func(ctx context.Context, n int, hc *HookContext) (int, error) {
		return n + 1, nil
	})

	// 非类型化调用方传入错误类型，处理器失败但管道不报错
	out, err := d.Execute(context.Background(), "counter", "not-an-int")
	require.NoError(t, err)
	assert.Equal(t, "not-an-int", out)

	// 其它处理器返回错误类型时ExecuteTyped报告执行错误
	d.Register("counter", func(ctx context.Context, data any, hc *HookContext) (any, error) {
		return "oops", nil
	}, WithPriority(100))
	n, err := ExecuteTyped(context.Background(), d, counter, 1)
	assert.True(t, errors.IsExecution(err))
	assert.Equal(t, 1, n)
}

func TestParseHookName(t *testing.T) {
	assert.Equal(t, "content:save", CreateHookName("content", "save"))

	ns, ev := ParseHookName("admin:menu:render")
	assert.Equal(t, "admin", ns)
	assert.Equal(t, "menu:render", ev)

	ns, ev = ParseHookName("plain")
	assert.Empty(t, ns)
	assert.Equal(t, "plain", ev)

	assert.True(t, IsNamespaced(PluginActivate))
	assert.False(t, IsNamespaced("plain"))
	assert.False(t, IsNamespaced("trailing:"))
}

func TestAround(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register("before", func(ctx context.Context, data any, hc *HookContext) (any, error) {
		return data.(int) + 1, nil
	})
	d.Register("after", func(ctx context.Context, data any, hc *HookContext) (any, error) {
		return data.(int) * 10, nil
	})

	fn := Around(d, "before", "after", func(ctx context.Context, data any) (any, error) {
		return data.(int) * 2, nil
	})
	out, err := fn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 40, out)
}

func TestRequestMiddleware(t *testing.T) {
	d := NewDispatcher(nil)
	var status int32
	d.Register(RequestStart, func(ctx context.Context, data any, hc *HookContext) (any, error) {
		r := data.(*http.Request)
		r = r.Clone(r.Context())
		r.Header.Set("X-Injected", "yes")
		return r, nil
	})
	d.Register(RequestEnd, func(ctx context.Context, data any, hc *HookContext) (any, error) {
		atomic.StoreInt32(&status, int32(data.(*RequestEndPayload).Status))
		return data, nil
	})

	h := RequestMiddleware(d)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Injected"))
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int32(http.StatusCreated), atomic.LoadInt32(&status))
}

func TestRequestMiddlewareCriticalStart(t *testing.T) {
	d := NewDispatcher(nil)
	var failed atomic.Bool
	d.Register(RequestStart, func(ctx context.Context, data any, hc *HookContext) (any, error) {
		return nil, errors.NewCriticalHookError("denied", nil)
	})
	d.Register(RequestError, func(ctx context.Context, data any, hc *HookContext) (any, error) {
		failed.Store(true)
		return data, nil
	})

	called := false
	h := RequestMiddleware(d)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, called)
	assert.True(t, failed.Load())
}

func TestThrottle(t *testing.T) {
	var calls int32
	h := Throttle(func(ctx context.Context, data any, hc *HookContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "handled", nil
	}, time.Hour)

	out, err := h(context.Background(), "in", &HookContext{})
	require.NoError(t, err)
	assert.Equal(t, "handled", out)

	out, err = h(context.Background(), "in", &HookContext{})
	require.NoError(t, err)
	assert.Equal(t, "in", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDebounce(t *testing.T) {
	var calls int32
	var last atomic.Value
	h := Debounce(func(ctx context.Context, data any, hc *HookContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		last.Store(data)
		return data, nil
	}, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		out, err := h(context.Background(), i, &HookContext{})
		require.NoError(t, err)
		assert.Equal(t, i, out)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, last.Load())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
