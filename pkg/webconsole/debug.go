package webconsole

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
)

// setupDebugRoutes 调试模式下注册性能分析接口
func (c *Console) setupDebugRoutes(api *gin.RouterGroup) {
	debug := api.Group("/debug/pprof")
	debug.GET("/", gin.WrapF(pprof.Index))
	debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	debug.GET("/profile", gin.WrapF(pprof.Profile))
	debug.GET("/symbol", gin.WrapF(pprof.Symbol))
	debug.POST("/symbol", gin.WrapF(pprof.Symbol))
	debug.GET("/trace", gin.WrapF(pprof.Trace))
	debug.GET("/:profile", func(ctx *gin.Context) {
		pprof.Handler(ctx.Param("profile")).ServeHTTP(ctx.Writer, ctx.Request)
	})
	c.logger.Debug("已启用性能分析接口", "path", c.config.APIPrefix+"/debug/pprof")
}
