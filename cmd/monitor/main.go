package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/host"
	"github.com/spf13/cobra"

	"github.com/Hara602/devMonitor/internal/config"
	"github.com/Hara602/devMonitor/internal/device"
	linux_monitor "github.com/Hara602/devMonitor/internal/monitor/linux"
	"github.com/Hara602/devMonitor/pkg/logging"
)

// 全局命令行参数
type globalOptions struct {
	configPath string
	sysRoot    string
	logLevel   string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "devmon",
		Short:         "devmon: Linux device inventory and live device events",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.CloseLogger()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.sysRoot, "sysfs", "", "sysfs mount point (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print records as JSON")

	root.AddCommand(newListCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newParentCmd(opts))
	root.AddCommand(newAttrsCmd(opts))
	root.AddCommand(newChainCmd(opts))
	root.AddCommand(newDetailsCmd(opts))
	return root
}

// setup 加载配置并初始化日志，返回配置和设备服务
func (o *globalOptions) setup() (*config.Config, *linux_monitor.Service, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.sysRoot != "" {
		cfg.Sysfs.Root = o.sysRoot
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := logging.InitLogger(cfg.Logging.Mode, cfg.Logging.Level); err != nil {
		return nil, nil, err
	}
	svc := linux_monitor.NewService(cfg.ServiceConfig(),
		linux_monitor.WithLogger(logging.Named("sysfs")))
	return cfg, svc, nil
}

func (o *globalOptions) client() (*device.Client, error) {
	_, svc, err := o.setup()
	if err != nil {
		return nil, err
	}
	return device.NewClient(svc, logging.Named("device")), nil
}

func printBanner(cfg *config.Config, f device.Filter) {
	kernel, err := host.KernelVersion()
	if err != nil {
		kernel = "unknown"
	}
	fmt.Printf("============================================\n")
	fmt.Printf("🛡️ Device Monitor Started In Linux (kernel %s)\n", kernel)
	fmt.Printf("📂 Sysfs: %s, source: %s\n", cfg.Sysfs.Root, cfg.Monitor.Source)
	if f.IsEmpty() {
		fmt.Printf("🔎 Filter: all devices\n")
	} else {
		fmt.Printf("🔎 Filter: subsystems=%v tags=%v\n", f.Subsystems, f.Tags)
	}
	fmt.Printf("============================================\n")
}
