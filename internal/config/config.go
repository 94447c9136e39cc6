// Package config loads the devmon YAML configuration.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Hara602/devMonitor/internal/device"
	linux_monitor "github.com/Hara602/devMonitor/internal/monitor/linux"
)

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Sysfs   SysfsConfig   `yaml:"sysfs"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type LoggingConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type SysfsConfig struct {
	Root        string `yaml:"root"`
	UdevDataDir string `yaml:"udev_data_dir"`
	UdevTagsDir string `yaml:"udev_tags_dir"`
}

type MonitorConfig struct {
	Source             string   `yaml:"source"`
	Subsystems         []string `yaml:"subsystems"`
	Tags               []string `yaml:"tags"`
	DropUnknownActions bool     `yaml:"drop_unknown_actions"`
}

// Default 返回不读取任何文件时使用的配置
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Mode: "development", Level: "info"},
		Sysfs: SysfsConfig{
			Root:        linux_monitor.DefaultSysRoot,
			UdevDataDir: linux_monitor.DefaultUdevDataDir,
			UdevTagsDir: linux_monitor.DefaultUdevTagsDir,
		},
		Monitor: MonitorConfig{Source: linux_monitor.SourceUdev},
	}
}

// Load 读取配置文件，应用环境变量覆盖并校验
// path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEVMON_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("DEVMON_SYSFS_ROOT"); v != "" {
		cfg.Sysfs.Root = v
	}
	if v := os.Getenv("DEVMON_SOURCE"); v != "" {
		cfg.Monitor.Source = v
	}
}

// Validate 检查配置的合法性
func (c *Config) Validate() error {
	if !slices.Contains([]string{"development", "production"}, c.Logging.Mode) {
		return fmt.Errorf("logging.mode must be development or production, got %q", c.Logging.Mode)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Sysfs.Root == "" {
		return fmt.Errorf("sysfs.root is required")
	}
	switch c.Monitor.Source {
	case linux_monitor.SourceUdev, linux_monitor.SourceKernel:
	default:
		return fmt.Errorf("monitor.source must be %q or %q, got %q",
			linux_monitor.SourceUdev, linux_monitor.SourceKernel, c.Monitor.Source)
	}
	if c.Monitor.Source == linux_monitor.SourceKernel && len(c.Monitor.Tags) > 0 {
		return fmt.Errorf("monitor.tags need source %q", linux_monitor.SourceUdev)
	}
	return nil
}

// Filter 返回监控使用的过滤规则
func (c *Config) Filter() device.Filter {
	return device.Filter{
		Subsystems: slices.Clone(c.Monitor.Subsystems),
		Tags:       slices.Clone(c.Monitor.Tags),
	}
}

// ServiceConfig 转换为设备服务的配置
func (c *Config) ServiceConfig() linux_monitor.Config {
	return linux_monitor.Config{
		SysRoot:     c.Sysfs.Root,
		UdevDataDir: c.Sysfs.UdevDataDir,
		UdevTagsDir: c.Sysfs.UdevTagsDir,
		Source:      c.Monitor.Source,
	}
}
