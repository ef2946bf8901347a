package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lomehong/pluginkit/pkg/errors"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

type recorder struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	panicOn string
}

func (r *recorder) OnActivate(ctx context.Context, p *plugin.Plugin) error {
	return r.record("activate:" + p.Name)
}

func (r *recorder) OnDeactivate(ctx context.Context, p *plugin.Plugin) error {
	return r.record("deactivate:" + p.Name)
}

func (r *recorder) record(call string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if call == r.panicOn {
		panic("lifecycle panic")
	}
	return r.failOn[call]
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func desc(name string, deps ...string) *plugin.Plugin {
	return &plugin.Plugin{Name: name, Version: "1.0.0", Dependencies: deps}
}

func newRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{failOn: map[string]error{}}
	return New(nil, WithLifecycle(rec)), rec
}

func TestRegisterInitialStatus(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("cache")))

	st, ok := r.GetStatus("cache")
	require.True(t, ok)
	assert.Equal(t, plugin.Status{Name: "cache", Version: "1.0.0", Installed: true, Errors: []string{}}, st)
	assert.True(t, r.Has("cache"))
}

func TestRegisterValidationError(t *testing.T) {
	r, _ := newRegistry(t)
	err := r.Register(desc("Bad Name!"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, r.GetAll())
	assert.Empty(t, r.GetAllStatuses())
}

func TestRegisterMissingDependency(t *testing.T) {
	r, _ := newRegistry(t)
	err := r.Register(desc("search", "cache"))
	require.Error(t, err)
	assert.True(t, errors.IsDependency(err))
	assert.Contains(t, err.Error(), "search")
	assert.Contains(t, err.Error(), "cache")
	assert.False(t, r.Has("search"))
}

func TestRegisterReplaceKeepsOrder(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b")))

	v2 := desc("a")
	v2.Version = "2.0.0"
	require.NoError(t, r.Register(v2))

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", p.Version)
	st, _ := r.GetStatus("a")
	assert.Equal(t, "2.0.0", st.Version)

	names := []string{}
	for _, p := range r.GetAll() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestUnregister(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("cache")))
	require.NoError(t, r.Register(desc("search", "cache")))
	r.SetConfig("search", plugin.Config{Enabled: true})

	err := r.Unregister("cache")
	require.Error(t, err)
	assert.True(t, errors.IsDependency(err))
	assert.Contains(t, err.Error(), "search")
	assert.True(t, r.Has("cache"))

	require.NoError(t, r.Unregister("search"))
	_, ok := r.GetStatus("search")
	assert.False(t, ok)
	_, ok = r.GetConfig("search")
	assert.False(t, ok)

	require.NoError(t, r.Unregister("cache"))
	assert.True(t, errors.IsNotFound(r.Unregister("cache")))
}

func TestActivateCascade(t *testing.T) {
	r, rec := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))
	require.NoError(t, r.Register(desc("c", "b")))

	require.NoError(t, r.Activate(context.Background(), "c"))
	assert.Equal(t, []string{"activate:a", "activate:b", "activate:c"}, rec.Calls())

	for _, name := range []string{"a", "b", "c"} {
		st, _ := r.GetStatus(name)
		assert.True(t, st.Active, name)
	}

	active := r.GetActive()
	assert.Len(t, active, 3)
	assert.Equal(t, Stats{Total: 3, Active: 3}, r.GetStats())
}

func TestActivateIdempotent(t *testing.T) {
	r, rec := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Activate(context.Background(), "a"))
	require.NoError(t, r.Activate(context.Background(), "a"))
	assert.Equal(t, []string{"activate:a"}, rec.Calls())

	assert.True(t, errors.IsNotFound(r.Activate(context.Background(), "missing")))
}

func TestActivateFailureRecordsStatus(t *testing.T) {
	r, rec := newRegistry(t)
	rec.failOn["activate:a"] = fmt.Errorf("database unavailable")
	require.NoError(t, r.Register(desc("a")))

	err := r.Activate(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.IsExecution(err))

	st, _ := r.GetStatus("a")
	assert.False(t, st.Active)
	assert.True(t, st.HasErrors)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "database unavailable")
	assert.Equal(t, st.Errors[0], st.LastError)

	// 成功激活后清除错误
	delete(rec.failOn, "activate:a")
	require.NoError(t, r.Activate(context.Background(), "a"))
	st, _ = r.GetStatus("a")
	assert.True(t, st.Active)
	assert.False(t, st.HasErrors)
	assert.Empty(t, st.Errors)
	assert.Empty(t, st.LastError)
}

func TestActivateDependencyFailure(t *testing.T) {
	r, rec := newRegistry(t)
	rec.failOn["activate:a"] = fmt.Errorf("boom")
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))

	require.Error(t, r.Activate(context.Background(), "b"))
	stA, _ := r.GetStatus("a")
	stB, _ := r.GetStatus("b")
	assert.True(t, stA.HasErrors)
	assert.True(t, stB.HasErrors)
	assert.False(t, stB.Active)
	assert.Equal(t, []string{"activate:a"}, rec.Calls())
}

func TestActivatePanicIsIsolated(t *testing.T) {
	r, rec := newRegistry(t)
	rec.panicOn = "activate:a"
	require.NoError(t, r.Register(desc("a")))

	err := r.Activate(context.Background(), "a")
	require.Error(t, err)
	st, _ := r.GetStatus("a")
	assert.False(t, st.Active)
	assert.True(t, st.HasErrors)
}

func TestDeactivateCascade(t *testing.T) {
	r, rec := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))
	require.NoError(t, r.Register(desc("c", "b")))
	require.NoError(t, r.Register(desc("d")))
	require.NoError(t, r.Activate(context.Background(), "c"))
	require.NoError(t, r.Activate(context.Background(), "d"))

	rec.calls = nil
	require.NoError(t, r.Deactivate(context.Background(), "a"))
	assert.Equal(t, []string{"deactivate:c", "deactivate:b", "deactivate:a"}, rec.Calls())

	for _, name := range []string{"a", "b", "c"} {
		st, _ := r.GetStatus(name)
		assert.False(t, st.Active, name)
	}
	st, _ := r.GetStatus("d")
	assert.True(t, st.Active)

	// 未激活时只记录警告
	require.NoError(t, r.Deactivate(context.Background(), "a"))
	assert.True(t, errors.IsNotFound(r.Deactivate(context.Background(), "missing")))
}

func TestDeactivateFailureKeepsActive(t *testing.T) {
	r, rec := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Activate(context.Background(), "a"))
	rec.failOn["deactivate:a"] = fmt.Errorf("still busy")

	err := r.Deactivate(context.Background(), "a")
	require.Error(t, err)
	st, _ := r.GetStatus("a")
	assert.True(t, st.Active)
	assert.True(t, st.HasErrors)
	assert.Contains(t, st.LastError, "still busy")
}

func TestResolveLoadOrder(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))
	require.NoError(t, r.Register(desc("c", "a", "b")))
	require.NoError(t, r.Register(desc("d")))

	order, err := r.ResolveLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)

	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	for name, deps := range r.GetDependencyGraph() {
		for _, dep := range deps {
			assert.Less(t, pos[dep], pos[name])
		}
	}
}

func TestResolveLoadOrderDependencyFirst(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("base")))
	require.NoError(t, r.Register(desc("top", "base")))

	// 重新注册base使其依赖后注册的插件
	require.NoError(t, r.Register(desc("util")))
	require.NoError(t, r.Register(desc("base", "util")))

	order, err := r.ResolveLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"util", "base", "top"}, order)
}

func TestResolveLoadOrderCycle(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("b")))
	require.NoError(t, r.Register(desc("a", "b")))
	require.NoError(t, r.Register(desc("b", "a")))

	_, err := r.ResolveLoadOrder()
	require.Error(t, err)
	assert.True(t, errors.IsDependency(err))
	assert.Contains(t, err.Error(), "circular dependency")
	assert.Contains(t, err.Error(), "b")

	// 循环依赖下激活也会失败而不是无限递归
	require.Error(t, r.Activate(context.Background(), "a"))
}

func TestGetDependents(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))
	require.NoError(t, r.Register(desc("c", "a")))

	assert.Equal(t, []string{"b", "c"}, r.GetDependents("a"))
	assert.Empty(t, r.GetDependents("c"))
}

func TestConfigExportImport(t *testing.T) {
	r, _ := newRegistry(t)
	r.SetConfig("zeta", plugin.Config{Enabled: true, InstalledAt: 100, Extra: map[string]any{"k": "v"}})
	r.SetConfig("alpha", plugin.Config{Enabled: false})

	c, ok := r.GetConfig("zeta")
	require.True(t, ok)
	assert.Equal(t, "zeta", c.Name)
	assert.NotZero(t, c.UpdatedAt)

	doc := r.ExportConfig()
	require.Len(t, doc.Plugins, 2)
	assert.Equal(t, "alpha", doc.Plugins[0].Name)
	assert.Equal(t, "zeta", doc.Plugins[1].Name)

	other := New(nil)
	other.ImportConfig(doc)
	assert.Equal(t, doc, other.ExportConfig())

	other.ImportConfig(plugin.ConfigDocument{Plugins: []plugin.Config{{Enabled: true}}})
	assert.Len(t, other.ExportConfig().Plugins, 2)
}

func TestUpdateStatusAndClear(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))

	assert.True(t, r.UpdateStatus("a", func(s *plugin.Status) { s.RecordError(fmt.Errorf("x")) }))
	assert.False(t, r.UpdateStatus("missing", func(s *plugin.Status) {}))
	assert.Equal(t, 1, r.GetStats().WithErrors)

	r.Clear()
	assert.Empty(t, r.GetAll())
	assert.Equal(t, Stats{}, r.GetStats())
}

func TestStatusExistsOnlyForRegistered(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(desc("a")))
	require.NoError(t, r.Register(desc("b", "a")))
	require.NoError(t, r.Unregister("b"))

	statuses := r.GetAllStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "a", statuses[0].Name)
}
