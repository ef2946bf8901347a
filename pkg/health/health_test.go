package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, status Status) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, StatusUnknown, Aggregate(nil))
	assert.Equal(t, StatusHealthy, Aggregate([]CheckResult{{Status: StatusHealthy}}))
	assert.Equal(t, StatusDegraded, Aggregate([]CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}))
	assert.Equal(t, StatusDegraded, Aggregate([]CheckResult{{Status: StatusUnknown}}))
	assert.Equal(t, StatusUnhealthy, Aggregate([]CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}}))
}

func TestRegistryReport(t *testing.T) {
	r := NewRegistry(nil, 0)
	r.Register(fixed("b", StatusHealthy))
	r.Register(fixed("a", StatusDegraded))
	r.Register(NewChecker("c", func(ctx context.Context) CheckResult { return CheckResult{} }))
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	report := r.Report(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "a", report.Checks[0].Name)
	assert.False(t, report.Checks[0].Checked.IsZero())
	assert.Equal(t, StatusUnknown, report.Checks[2].Status)

	r.Unregister("a")
	r.Unregister("c")
	assert.Equal(t, StatusHealthy, r.Report(context.Background()).Status)
}

func TestRegistryTimeoutAndPanic(t *testing.T) {
	r := NewRegistry(nil, 20*time.Millisecond)
	r.Register(NewChecker("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Message: ctx.Err().Error()}
	}))
	r.Register(NewChecker("panics", func(ctx context.Context) CheckResult {
		panic("boom")
	}))

	results := r.RunChecks(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "panics", results[0].Name)
	assert.Equal(t, StatusUnhealthy, results[0].Status)
	assert.Contains(t, results[0].Message, "boom")
	assert.Equal(t, "slow", results[1].Name)
	assert.Contains(t, results[1].Message, "deadline")
}
