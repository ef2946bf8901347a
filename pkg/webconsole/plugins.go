package webconsole

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
)

// globalMiddleware 每个请求按优先级套上已激活插件的全局中间件，第一个在最外层
func (c *Console) globalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := next
		entries := c.manager.GetPluginMiddleware()
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Global && entries[i].Handler != nil {
				h = entries[i].Handler(h)
			}
		}
		h.ServeHTTP(w, r)
	})
}

// servePlugins 按激活顺序查找第一个能匹配请求的插件路由
func (c *Console) servePlugins(ctx *gin.Context) {
	path := ctx.Request.URL.Path
	if path == c.config.APIPrefix || strings.HasPrefix(path, c.config.APIPrefix+"/") {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error": "API not found",
			"path":  path,
		})
		return
	}

	for _, router := range c.manager.GetActiveRoutes() {
		var match mux.RouteMatch
		if router.Match(ctx.Request, &match) {
			// NoRoute预置了404状态
			ctx.Status(http.StatusOK)
			router.ServeHTTP(ctx.Writer, ctx.Request)
			return
		}
	}

	c.logger.Debug("没有插件路由匹配请求", "path", path, "method", ctx.Request.Method)
	ctx.JSON(http.StatusNotFound, gin.H{
		"error": "not found",
		"path":  path,
	})
}
