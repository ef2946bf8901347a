package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType 表示错误类型
type ErrorType int

// 预定义错误类型
const (
	ErrorTypeInternal   ErrorType = iota // 内部错误
	ErrorTypeValidation                  // 插件描述验证失败
	ErrorTypeDependency                  // 依赖缺失、被依赖或循环依赖
	ErrorTypeNotFound                    // 插件或资源不存在
	ErrorTypeExecution                   // 钩子处理器或生命周期回调执行失败
	ErrorTypeCritical                    // 严重钩子错误，中止整条管道
	ErrorTypeState                       // 状态不允许该操作
	ErrorTypeConfig                      // 配置读写错误
)

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeInternal:
		return "Internal"
	case ErrorTypeValidation:
		return "Validation"
	case ErrorTypeDependency:
		return "Dependency"
	case ErrorTypeNotFound:
		return "NotFound"
	case ErrorTypeExecution:
		return "Execution"
	case ErrorTypeCritical:
		return "Critical"
	case ErrorTypeState:
		return "State"
	case ErrorTypeConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// 错误代码
const (
	CodeValidation = "VALIDATION_FAILED"
	CodeDependency = "DEPENDENCY_ERROR"
	CodeCircular   = "CIRCULAR_DEPENDENCY"
	CodeNotFound   = "NOT_FOUND"
	CodeExecution  = "EXECUTION_FAILED"
	CodeCritical   = "CRITICAL_HOOK_ERROR"
	CodePanic      = "PANIC"
	CodeState      = "INVALID_STATE"
	CodeConfig     = "CONFIG_ERROR"
	CodeInternal   = "INTERNAL"
)

// AppError 表示扩展核心返回的错误
type AppError struct {
	Type    ErrorType              // 错误类型
	Code    string                 // 错误代码
	Message string                 // 错误消息
	Plugin  string                 // 相关插件
	Details []string               // 验证错误明细
	Cause   error                  // 原始错误
	Context map[string]interface{} // 错误上下文
	Stack   string                 // 堆栈跟踪
	Time    time.Time              // 错误发生时间
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现errors.Unwrap接口
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithPlugin 设置相关插件
func (e *AppError) WithPlugin(name string) *AppError {
	e.Plugin = name
	return e
}

// New 创建一个新的错误
func New(errorType ErrorType, code string, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Time:    time.Now(),
		Stack:   getStackTrace(3),
	}
}

// Wrap 包装一个错误，原始错误链保持完整
func Wrap(err error, errorType ErrorType, code string, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   getStackTrace(3),
		Time:    time.Now(),
	}
}

// WrapIfErr 如果err不为nil，则包装错误
func WrapIfErr(err error, errorType ErrorType, code string, message string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, errorType, code, message)
}

// NewValidationError 创建验证错误，details为逐条的验证失败原因
func NewValidationError(plugin string, details []string) *AppError {
	msg := fmt.Sprintf("plugin %q validation failed", plugin)
	if len(details) > 0 {
		msg += ": " + strings.Join(details, "; ")
	}
	e := New(ErrorTypeValidation, CodeValidation, msg).WithPlugin(plugin)
	e.Details = append([]string(nil), details...)
	return e
}

// NewDependencyError 创建依赖错误
func NewDependencyError(plugin string, format string, args ...interface{}) *AppError {
	return New(ErrorTypeDependency, CodeDependency, fmt.Sprintf(format, args...)).WithPlugin(plugin)
}

// NewMissingDependencyError 创建依赖缺失错误
func NewMissingDependencyError(plugin, dependency string) *AppError {
	return NewDependencyError(plugin, "plugin %s depends on %s which is not registered", plugin, dependency).
		WithContext("dependency", dependency)
}

// NewCircularDependencyError 创建循环依赖错误
func NewCircularDependencyError(plugin string) *AppError {
	e := New(ErrorTypeDependency, CodeCircular,
		fmt.Sprintf("circular dependency detected involving plugin %s", plugin))
	return e.WithPlugin(plugin)
}

// NewNotFoundError 创建插件不存在错误
func NewNotFoundError(plugin string) *AppError {
	return New(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("plugin %s not found", plugin)).WithPlugin(plugin)
}

// NewExecutionError 包装回调或处理器的执行错误
func NewExecutionError(plugin string, cause error, format string, args ...interface{}) *AppError {
	if cause == nil {
		return New(ErrorTypeExecution, CodeExecution, fmt.Sprintf(format, args...)).WithPlugin(plugin)
	}
	return Wrap(cause, ErrorTypeExecution, CodeExecution, fmt.Sprintf(format, args...)).WithPlugin(plugin)
}

// NewCriticalHookError 创建严重钩子错误，钩子处理器返回它时整条管道立即中止
func NewCriticalHookError(message string, cause error) *AppError {
	if cause == nil {
		return New(ErrorTypeCritical, CodeCritical, message)
	}
	return Wrap(cause, ErrorTypeCritical, CodeCritical, message)
}

// Critical 将任意错误标记为严重钩子错误
func Critical(err error) error {
	if err == nil {
		return nil
	}
	if IsCritical(err) {
		return err
	}
	return Wrap(err, ErrorTypeCritical, CodeCritical, "critical hook error")
}

// NewStateError 创建状态错误
func NewStateError(plugin string, format string, args ...interface{}) *AppError {
	return New(ErrorTypeState, CodeState, fmt.Sprintf(format, args...)).WithPlugin(plugin)
}

// NewConfigError 创建配置错误
func NewConfigError(cause error, format string, args ...interface{}) *AppError {
	if cause == nil {
		return New(ErrorTypeConfig, CodeConfig, fmt.Sprintf(format, args...))
	}
	return Wrap(cause, ErrorTypeConfig, CodeConfig, fmt.Sprintf(format, args...))
}

// Is 检查错误是否为指定错误
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As 将错误转换为指定类型
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsType 检查错误链中是否存在指定类型的AppError
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsCritical 检查是否为严重钩子错误
func IsCritical(err error) bool { return IsType(err, ErrorTypeCritical) }

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool { return IsType(err, ErrorTypeValidation) }

// IsDependency 检查是否为依赖错误
func IsDependency(err error) bool { return IsType(err, ErrorTypeDependency) }

// IsNotFound 检查是否为不存在错误
func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

// IsExecution 检查是否为执行错误
func IsExecution(err error) bool { return IsType(err, ErrorTypeExecution) }

// GetContext 获取错误上下文
func GetContext(err error) map[string]interface{} {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Context
	}
	return nil
}

// GetStack 获取错误堆栈
func GetStack(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stack
	}
	return ""
}

// getStackTrace 获取堆栈跟踪
func getStackTrace(skip int) string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "testing/") {
			builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return builder.String()
}
