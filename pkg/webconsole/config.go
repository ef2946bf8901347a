package webconsole

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config 定义Web控制台配置
type Config struct {
	// 监听地址，host:port
	Address string

	// API前缀
	APIPrefix string

	// 是否以调试模式运行gin
	Debug bool

	// 关闭超时时间
	ShutdownTimeout time.Duration

	// 认证用户名，为空时不启用认证
	Username string

	// 认证密码
	Password string

	// 跨域来源
	AllowOrigins []string

	// 每个客户端每秒请求数，0表示不限制
	RateLimit int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Address:         "127.0.0.1:8088",
		APIPrefix:       "/api",
		ShutdownTimeout: 10 * time.Second,
		AllowOrigins:    []string{"*"},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("无效的监听地址 %q: %w", c.Address, err)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") || c.APIPrefix == "/" {
		return fmt.Errorf("API前缀必须以/开头且不能为/: %q", c.APIPrefix)
	}
	if c.Username != "" && c.Password == "" {
		return fmt.Errorf("启用认证时必须指定密码")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("请求限制不能为负数")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	c.APIPrefix = strings.TrimRight(c.APIPrefix, "/")
	return nil
}
