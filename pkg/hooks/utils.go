package hooks

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lomehong/pluginkit/pkg/errors"
)

// Func 可以被钩子包裹的普通函数
type Func func(ctx context.Context, data any) (any, error)

// Around 在fn前后执行钩子
// before的结果作为fn的输入，fn的结果经过after后返回，钩子名称为空时跳过
func Around(e Executor, before, after string, fn Func) Func {
	return func(ctx context.Context, data any) (any, error) {
		var err error
		if before != "" {
			if data, err = e.Execute(ctx, before, data); err != nil {
				return nil, err
			}
		}
		out, err := fn(ctx, data)
		if err != nil {
			return nil, err
		}
		if after != "" {
			return e.Execute(ctx, after, out)
		}
		return out, nil
	}
}

// RequestEndPayload request:end钩子的载荷
type RequestEndPayload struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// RequestFailure request:error钩子的载荷
type RequestFailure struct {
	Request *http.Request
	Err     error
}

// RequestMiddleware 围绕HTTP请求触发request:start、request:end和request:error
// request:start的处理器可以返回新的*http.Request替换原请求
func RequestMiddleware(e Executor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			out, err := e.Execute(ctx, RequestStart, r)
			if err != nil {
				_, _ = e.Execute(ctx, RequestError, &RequestFailure{Request: r, Err: err})
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if req, ok := out.(*http.Request); ok && req != nil {
				r = req
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			_, _ = e.Execute(ctx, RequestEnd, &RequestEndPayload{Request: r, Status: sw.status, Duration: time.Since(start)})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("底层ResponseWriter不支持Hijack")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Throttle 限制处理器的执行频率，被限流的调用原样返回输入
func Throttle(handler Handler, interval time.Duration) Handler {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	return func(ctx context.Context, data any, hc *HookContext) (any, error) {
		if !limiter.Allow() {
			return data, nil
		}
		return handler(ctx, data, hc)
	}
}

// Debounce 合并短时间内的多次调用，只在最后一次调用delay之后执行一次
// 调用本身立即原样返回输入，适用于只产生副作用的处理器
func Debounce(handler Handler, delay time.Duration) Handler {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func(ctx context.Context, data any, hc *HookContext) (any, error) {
		detached := context.WithoutCancel(ctx)
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			_ = errors.Recover(hc.Plugin, func() error {
				_, err := handler(detached, data, hc)
				return err
			})
		})
		mu.Unlock()
		return data, nil
	}
}
