// Package health 汇总插件宿主各组件的健康状态
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Status 表示健康状态
type Status string

// 预定义健康状态
const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout 单个检查的默认超时
const DefaultTimeout = 5 * time.Second

// CheckResult 健康检查结果
type CheckResult struct {
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Checked  time.Time      `json:"checked"`
	Duration time.Duration  `json:"duration"`
}

// Report 所有检查的汇总
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc 健康检查函数
type CheckerFunc func(ctx context.Context) CheckResult

type funcChecker struct {
	name string
	fn   CheckerFunc
}

// NewChecker 用函数创建检查器
func NewChecker(name string, fn CheckerFunc) Checker {
	return &funcChecker{name: name, fn: fn}
}

func (c *funcChecker) Name() string { return c.name }

func (c *funcChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// Registry 检查器注册表
type Registry struct {
	checkers map[string]Checker
	timeout  time.Duration
	mu       sync.RWMutex
	logger   hclog.Logger
}

// NewRegistry 创建检查器注册表，timeout<=0时使用DefaultTimeout
func NewRegistry(logger hclog.Logger, timeout time.Duration) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		checkers: make(map[string]Checker),
		timeout:  timeout,
		logger:   logger.Named("health"),
	}
}

// Register 注册检查器，同名覆盖
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
	r.logger.Debug("注册健康检查器", "name", checker.Name())
}

// Unregister 注销检查器
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Names 已注册的检查器名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks 按名称顺序运行所有检查，每个检查都有独立的超时
func (r *Registry) RunChecks(ctx context.Context) []CheckResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	r.mu.RUnlock()
	sort.Slice(checkers, func(i, j int) bool { return checkers[i].Name() < checkers[j].Name() })

	results := make([]CheckResult, 0, len(checkers))
	for _, checker := range checkers {
		results = append(results, r.run(ctx, checker))
	}
	return results
}

func (r *Registry) run(ctx context.Context, checker Checker) (result CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("检查发生panic: %v", rec)}
		}
		result.Name = checker.Name()
		result.Checked = start
		result.Duration = time.Since(start)
		if result.Status == "" {
			result.Status = StatusUnknown
		}
		if result.Status != StatusHealthy {
			r.logger.Warn("健康检查未通过", "name", result.Name, "status", result.Status, "message", result.Message)
		}
	}()

	return checker.Check(ctx)
}

// Report 运行所有检查并汇总
// 任一检查不健康则整体不健康，否则任一降级则整体降级
func (r *Registry) Report(ctx context.Context) Report {
	results := r.RunChecks(ctx)
	return Report{Status: Aggregate(results), Checks: results}
}

// Aggregate 汇总检查结果的状态
func Aggregate(results []CheckResult) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			status = StatusDegraded
		}
	}
	return status
}
