package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// LogLevel 日志级别
type LogLevel string

// 预定义日志级别
const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat 日志格式
type LogFormat string

// 预定义日志格式
const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogOutput 日志输出
type LogOutput string

// 预定义日志输出
const (
	LogOutputStdout LogOutput = "stdout"
	LogOutputStderr LogOutput = "stderr"
	LogOutputFile   LogOutput = "file"
)

// LogConfig 日志配置
type LogConfig struct {
	Level           LogLevel  `mapstructure:"level"`
	Format          LogFormat `mapstructure:"format"`
	Output          LogOutput `mapstructure:"output"`
	FilePath        string    `mapstructure:"file_path"`
	MaxSize         int64     `mapstructure:"max_size"`    // 单个日志文件最大字节数
	MaxBackups      int       `mapstructure:"max_backups"` // 保留的备份数量
	IncludeLocation bool      `mapstructure:"include_location"`
	TimeFormat      string    `mapstructure:"time_format"`
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      LogLevelInfo,
		Format:     LogFormatText,
		Output:     LogOutputStderr,
		FilePath:   "logs/pluginhost.log",
		MaxSize:    50 * 1024 * 1024,
		MaxBackups: 5,
		TimeFormat: time.RFC3339,
	}
}

// Logger 宿主进程日志
// 子系统使用hclog，HTTP访问日志使用zerolog，两者共用同一个输出
type Logger struct {
	hc      hclog.Logger
	access  zerolog.Logger
	rotator *Rotator
}

// New 根据配置创建日志
func New(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339
	}

	writer, rotator, err := createLogWriter(config)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	hc := hclog.New(&hclog.LoggerOptions{
		Name:            "pluginhost",
		Level:           ToHCLogLevel(config.Level),
		Output:          writer,
		JSONFormat:      config.Format == LogFormatJSON,
		IncludeLocation: config.IncludeLocation,
		TimeFormat:      config.TimeFormat,
	})

	var accessOut io.Writer = writer
	if config.Format == LogFormatText {
		accessOut = zerolog.ConsoleWriter{Out: writer, TimeFormat: config.TimeFormat, NoColor: config.Output == LogOutputFile}
	}
	access := zerolog.New(accessOut).
		Level(toZeroLogLevel(config.Level)).
		With().Timestamp().Str("component", "http").Logger()

	return &Logger{hc: hc, access: access, rotator: rotator}, nil
}

// HC 返回hclog日志
func (l *Logger) HC() hclog.Logger {
	return l.hc
}

// Access 返回HTTP访问日志
func (l *Logger) Access() zerolog.Logger {
	return l.access
}

// Close 关闭文件输出
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

func createLogWriter(config *LogConfig) (io.Writer, *Rotator, error) {
	switch config.Output {
	case LogOutputStdout:
		return os.Stdout, nil, nil
	case LogOutputStderr, "":
		return os.Stderr, nil, nil
	case LogOutputFile:
		if config.FilePath == "" {
			return nil, nil, fmt.Errorf("日志文件路径为空")
		}
		r := NewRotator(config.FilePath, config.MaxSize, config.MaxBackups)
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("不支持的日志输出: %s", config.Output)
	}
}

// ParseLevel 解析日志级别字符串，无法识别时返回info
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelTrace:
		return LogLevelTrace
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// ToHCLogLevel 转换为hclog日志级别
func ToHCLogLevel(level LogLevel) hclog.Level {
	switch level {
	case LogLevelTrace:
		return hclog.Trace
	case LogLevelDebug:
		return hclog.Debug
	case LogLevelWarn:
		return hclog.Warn
	case LogLevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}

func toZeroLogLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
