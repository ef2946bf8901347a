package health

import (
	"context"
	"fmt"

	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
	"github.com/lomehong/pluginkit/pkg/plugin/manager"
)

// PluginChecker 检查插件状态，任一插件记录了错误时结果降级
func PluginChecker(m *manager.Manager) Checker {
	return NewChecker("plugins", func(ctx context.Context) CheckResult {
		details := make(map[string]any)
		var failed []string

		for _, s := range m.GetAllStatuses() {
			switch {
			case s.HasErrors:
				details[s.Name] = "error: " + s.LastError
				failed = append(failed, s.Name)
			case s.Active:
				details[s.Name] = "active"
			default:
				details[s.Name] = "inactive"
			}
		}

		if len(failed) > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d 个插件存在错误: %v", len(failed), failed),
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "插件运行正常", Details: details}
	})
}

// StoreChecker 检查插件配置存储是否可读
func StoreChecker(store configstore.Store) Checker {
	return NewChecker("config_store", func(ctx context.Context) CheckResult {
		doc, err := store.Load(ctx)
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "配置存储可用",
			Details: map[string]any{"plugins": len(doc.Plugins)},
		}
	})
}
