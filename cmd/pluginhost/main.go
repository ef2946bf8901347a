package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lomehong/pluginkit/pkg/config"
	"github.com/lomehong/pluginkit/pkg/core"
	"github.com/lomehong/pluginkit/pkg/plugin/configstore"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pluginhost",
		Short: "插件宿主",
		Long: `可扩展的插件宿主，提供钩子分发、插件注册表和扩展管理，
内置缓存、搜索和示例插件，并通过Web控制台管理插件。`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(configCmd)
}

// newApp 创建并初始化宿主，不启动HTTP服务
func newApp(ctx context.Context) (*core.App, error) {
	app := core.NewApp(cfgFile, core.DefaultBuiltins()...)
	if err := app.Init(ctx); err != nil {
		return nil, fmt.Errorf("初始化应用程序失败: %w", err)
	}
	return app, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pluginhost v%s\n", core.Version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动插件宿主",
	RunE: func(cmd *cobra.Command, args []string) error {
		// SIGHUP: 终端关闭时发送
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()

		app := core.NewApp(cfgFile, core.DefaultBuiltins()...)
		fmt.Fprintln(cmd.OutOrStdout(), "插件宿主已启动，按 Ctrl+C 优雅终止")
		if err := app.Run(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "插件宿主已停止")
		return nil
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "插件管理",
}

func init() {
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginOrderCmd)
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有插件及其状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Stop(ctx)

		statuses := app.Manager().GetAllStatuses()
		if len(statuses) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "没有已安装的插件")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tACTIVE\tDEPENDS\tERROR")
		for _, s := range statuses {
			deps := "-"
			if p, ok := app.Manager().Registry().Get(s.Name); ok && len(p.Dependencies) > 0 {
				deps = strings.Join(p.Dependencies, ",")
			}
			lastErr := s.LastError
			if lastErr == "" {
				lastErr = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", s.Name, s.Version, s.Active, deps, lastErr)
		}
		return w.Flush()
	},
}

var pluginOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "显示插件加载顺序",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Stop(ctx)

		order, err := app.Manager().Registry().ResolveLoadOrder()
		if err != nil {
			return err
		}
		for i, name := range order {
			fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理",
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "生成默认宿主配置文件",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "pluginkit.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成配置文件 %s\n", path)
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "导出插件配置，格式由文件扩展名决定，未指定文件时以YAML输出",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Stop(ctx)

		doc := app.Manager().Registry().ExportConfig()
		if len(args) == 0 {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return err
			}
			return enc.Close()
		}

		out, err := configstore.NewFileStore(args[0])
		if err != nil {
			return err
		}
		if err := out.Save(ctx, doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 个插件配置到 %s\n", len(doc.Plugins), args[0])
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "从文件导入插件配置并写入配置存储",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		in, err := configstore.NewFileStore(args[0])
		if err != nil {
			return err
		}
		doc, err := in.Load(ctx)
		if err != nil {
			return err
		}

		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		app.Manager().Registry().ImportConfig(doc)
		// Stop把注册表中的配置写回存储
		if err := app.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 个插件配置\n", len(doc.Plugins))
		return nil
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
