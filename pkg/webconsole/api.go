package webconsole

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lomehong/pluginkit/pkg/errors"
	"github.com/lomehong/pluginkit/pkg/health"
	"github.com/lomehong/pluginkit/pkg/plugin"
)

// PluginInfo 插件详情
type PluginInfo struct {
	plugin.Status
	Description   string        `json:"description,omitempty"`
	Author        string        `json:"author,omitempty"`
	License       string        `json:"license,omitempty"`
	Compatibility string        `json:"compatibility,omitempty"`
	Dependencies  []string      `json:"dependencies"`
	Dependents    []string      `json:"dependents"`
	Hooks         []string      `json:"hooks"`
	Routes        []string      `json:"routes"`
	Services      []string      `json:"services"`
	Config        plugin.Config `json:"config"`
}

// statusCode 将错误类型映射为HTTP状态码
func statusCode(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsDependency(err), errors.IsType(err, errors.ErrorTypeState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (c *Console) fail(ctx *gin.Context, err error) {
	ctx.JSON(statusCode(err), gin.H{
		"error": err.Error(),
	})
}

func (c *Console) ping(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// getHealth 不健康时返回503
func (c *Console) getHealth(ctx *gin.Context) {
	report := c.health.Report(ctx.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, report)
}

func (c *Console) pluginInfo(p *plugin.Plugin) PluginInfo {
	reg := c.manager.Registry()
	info := PluginInfo{
		Status:        c.manager.GetStatus(p.Name),
		Description:   p.Description,
		Author:        p.Author,
		License:       p.License,
		Compatibility: p.Compatibility,
		Dependencies:  append([]string{}, p.Dependencies...),
		Dependents:    reg.GetDependents(p.Name),
		Hooks:         make([]string, 0, len(p.Hooks)),
		Routes:        make([]string, 0, len(p.Routes)),
		Services:      make([]string, 0, len(p.Services)),
	}
	if info.Dependents == nil {
		info.Dependents = []string{}
	}
	for _, h := range p.Hooks {
		info.Hooks = append(info.Hooks, h.Name)
	}
	for _, r := range p.Routes {
		info.Routes = append(info.Routes, r.Path)
	}
	for _, s := range p.Services {
		info.Services = append(info.Services, s.Name)
	}
	if cfg, ok := reg.GetConfig(p.Name); ok {
		info.Config = cfg
	} else {
		info.Config = plugin.Config{Name: p.Name}
	}
	return info
}

// listPlugins 获取所有插件
func (c *Console) listPlugins(ctx *gin.Context) {
	all := c.manager.Registry().GetAll()
	result := make([]PluginInfo, 0, len(all))
	for _, p := range all {
		result = append(result, c.pluginInfo(p))
	}
	ctx.JSON(http.StatusOK, result)
}

// getPlugin 获取插件详情
func (c *Console) getPlugin(ctx *gin.Context) {
	name := ctx.Param("name")
	p, ok := c.manager.Registry().Get(name)
	if !ok {
		c.fail(ctx, errors.NewNotFoundError(name))
		return
	}
	ctx.JSON(http.StatusOK, c.pluginInfo(p))
}

// loadOrder 依赖顺序
func (c *Console) loadOrder(ctx *gin.Context) {
	order, err := c.manager.Registry().ResolveLoadOrder()
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order": order,
		"graph": c.manager.Registry().GetDependencyGraph(),
	})
}

func (c *Console) activatePlugin(ctx *gin.Context) {
	c.setEnabled(ctx, true)
}

func (c *Console) deactivatePlugin(ctx *gin.Context) {
	c.setEnabled(ctx, false)
}

// setEnabled 激活或停用插件，成功后更新并保存配置中的enabled
func (c *Console) setEnabled(ctx *gin.Context, enabled bool) {
	name := ctx.Param("name")

	c.opMu.Lock()
	defer c.opMu.Unlock()

	var err error
	if enabled {
		err = c.manager.Activate(ctx.Request.Context(), name)
	} else {
		err = c.manager.Deactivate(ctx.Request.Context(), name)
	}
	if err != nil {
		c.logger.Warn("插件操作失败", "plugin", name, "enabled", enabled, "error", err)
		c.fail(ctx, err)
		return
	}

	reg := c.manager.Registry()
	if cfg, ok := reg.GetConfig(name); ok && cfg.Enabled != enabled {
		cfg.Enabled = enabled
		reg.SetConfig(name, cfg)
	}
	c.persist(ctx.Request.Context())

	ctx.JSON(http.StatusOK, c.manager.GetStatus(name))
}

// uninstallPlugin 卸载插件
func (c *Console) uninstallPlugin(ctx *gin.Context) {
	name := ctx.Param("name")

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.manager.Uninstall(ctx.Request.Context(), name); err != nil {
		c.logger.Warn("卸载插件失败", "plugin", name, "error", err)
		c.fail(ctx, err)
		return
	}
	c.persist(ctx.Request.Context())
	ctx.Status(http.StatusNoContent)
}

func (c *Console) listHooks(ctx *gin.Context) {
	d := c.manager.Hooks()
	result := make(map[string]any)
	for _, name := range d.GetHookNames() {
		result[name] = d.GetHooks(name)
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *Console) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"plugins": c.manager.GetStats(),
		"events":  gin.H{"clients": c.events.clientCount()},
	})
}

// getConfig 导出插件配置
func (c *Console) getConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.manager.Registry().ExportConfig())
}

// putConfig 导入插件配置
func (c *Console) putConfig(ctx *gin.Context) {
	var doc plugin.ConfigDocument
	if err := ctx.ShouldBindJSON(&doc); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": "无效的配置文档: " + err.Error(),
		})
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	reg := c.manager.Registry()
	reg.ImportConfig(doc)
	if err := c.persist(ctx.Request.Context()); err != nil {
		c.fail(ctx, err)
		return
	}
	c.logger.Info("已导入插件配置", "plugins", len(doc.Plugins))
	ctx.JSON(http.StatusOK, reg.ExportConfig())
}

// persist 将当前插件配置写回存储
func (c *Console) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, c.manager.Registry().ExportConfig()); err != nil {
		c.logger.Error("保存插件配置失败", "error", err)
		return errors.NewConfigError(err, "保存插件配置失败")
	}
	return nil
}
