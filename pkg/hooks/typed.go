package hooks

import (
	"context"

	"github.com/lomehong/pluginkit/pkg/errors"
)

// Hook 绑定了载荷类型的钩子名称
type Hook[T any] struct {
	Name string
}

// NewHook 创建类型化钩子
func NewHook[T any](name string) Hook[T] {
	return Hook[T]{Name: name}
}

// TypedHandler 类型化处理器
type TypedHandler[T any] func(ctx context.Context, data T, hc *HookContext) (T, error)

// RegisterTyped 注册类型化处理器
// 载荷类型不匹配时该处理器返回执行错误，管道继续
func RegisterTyped[T any](r Registrar, hook Hook[T], fn TypedHandler[T], opts ...RegisterOption) string {
	return r.Register(hook.Name, func(ctx context.Context, data any, hc *HookContext) (any, error) {
		v, err := cast[T](hook.Name, data)
		if err != nil {
			return nil, err
		}
		return fn(ctx, v, hc)
	}, opts...)
}

// ExecuteTyped 执行类型化钩子
func ExecuteTyped[T any](ctx context.Context, e Executor, hook Hook[T], data T, opts ...ExecuteOption) (T, error) {
	out, err := e.Execute(ctx, hook.Name, data, opts...)
	if err != nil {
		if v, cerr := cast[T](hook.Name, out); cerr == nil {
			return v, err
		}
		return data, err
	}
	v, cerr := cast[T](hook.Name, out)
	if cerr != nil {
		return data, cerr
	}
	return v, nil
}

func cast[T any](name string, data any) (T, error) {
	var zero T
	if data == nil {
		return zero, nil
	}
	v, ok := data.(T)
	if !ok {
		return zero, errors.NewExecutionError("", nil, "hook %s: unexpected payload type %T", name, data)
	}
	return v, nil
}
