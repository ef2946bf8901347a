package hooks

import (
	"context"
	"strings"
)

type executingKey struct{}

// 正在执行的钩子名称随context传递，因此递归检测只作用于同一条调用链
func withExecuting(ctx context.Context, name string) context.Context {
	stack, _ := ctx.Value(executingKey{}).([]string)
	next := make([]string, len(stack)+1)
	copy(next, stack)
	next[len(stack)] = name
	return context.WithValue(ctx, executingKey{}, next)
}

func isExecuting(ctx context.Context, name string) bool {
	stack, _ := ctx.Value(executingKey{}).([]string)
	for _, n := range stack {
		if n == name {
			return true
		}
	}
	return false
}

func executingStack(ctx context.Context) string {
	stack, _ := ctx.Value(executingKey{}).([]string)
	return strings.Join(stack, " -> ")
}

// Executing 返回当前调用链上正在执行的钩子名称
func Executing(ctx context.Context) []string {
	stack, _ := ctx.Value(executingKey{}).([]string)
	return append([]string(nil), stack...)
}
