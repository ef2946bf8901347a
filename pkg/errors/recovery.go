package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/hashicorp/go-hclog"
)

// PanicError 由Recover捕获的panic转换而来
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover 执行fn并将其中的panic转换为执行错误
// 插件代码的panic只影响当前调用，不会穿透到调用方
func Recover(plugin string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			pe := &PanicError{Value: p, Stack: string(debug.Stack())}
			err = Wrap(pe, ErrorTypeExecution, CodePanic, "recovered from panic").
				WithPlugin(plugin).
				WithContext("stack", pe.Stack)
		}
	}()
	return fn()
}

// LogRecover 与Recover相同，额外将panic记录到日志
func LogRecover(logger hclog.Logger, plugin string, fn func() error) error {
	err := Recover(plugin, fn)
	var pe *PanicError
	if err != nil && As(err, &pe) && logger != nil {
		logger.Error("恢复panic", "plugin", plugin, "panic", pe.Value, "stack", pe.Stack)
	}
	return err
}
