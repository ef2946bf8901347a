package webconsole

import (
	"crypto/subtle"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// corsMiddleware 创建CORS中间件
func (c *Console) corsMiddleware() gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(c.config.AllowOrigins))
	for _, o := range c.config.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			ctx.Header("Access-Control-Allow-Origin", origin)
			ctx.Header("Access-Control-Allow-Credentials", "true")
			ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			ctx.Header("Access-Control-Max-Age", "86400")
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// authMiddleware 基本认证
func (c *Console) authMiddleware() gin.HandlerFunc {
	user := []byte(c.config.Username)
	pass := []byte(c.config.Password)

	return func(ctx *gin.Context) {
		username, password, ok := ctx.Request.BasicAuth()
		if ok &&
			subtle.ConstantTimeCompare([]byte(username), user) == 1 &&
			subtle.ConstantTimeCompare([]byte(password), pass) == 1 {
			ctx.Set("username", username)
			ctx.Next()
			return
		}

		ctx.Header("WWW-Authenticate", `Basic realm="pluginkit"`)
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "未授权访问",
		})
	}
}

// rateLimitMiddleware 按客户端IP限流
func (c *Console) rateLimitMiddleware() gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limit := rate.Limit(c.config.RateLimit)
	burst := c.config.RateLimit

	return func(ctx *gin.Context) {
		ip := ctx.ClientIP()
		mu.Lock()
		limiter, ok := limiters[ip]
		if !ok {
			limiter = rate.NewLimiter(limit, burst)
			limiters[ip] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "请求过于频繁，请稍后再试",
			})
			return
		}
		ctx.Next()
	}
}
