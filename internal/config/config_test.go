package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/devMonitor/internal/device"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Logging.Mode)
	assert.Equal(t, "/sys", cfg.Sysfs.Root)
	assert.Equal(t, "udev", cfg.Monitor.Source)
	assert.True(t, cfg.Filter().IsEmpty())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devmon.yaml")
	writeConfig(t, path, `
logging:
  mode: production
  level: debug
sysfs:
  root: /tmp/sys
monitor:
  subsystems: [usb, block]
  tags: [uaccess]
  drop_unknown_actions: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Logging.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/run/udev/data", cfg.Sysfs.UdevDataDir, "unset keys keep defaults")
	assert.True(t, cfg.Monitor.DropUnknownActions)
	assert.Equal(t, device.Filter{Subsystems: []string{"usb", "block"}, Tags: []string{"uaccess"}}, cfg.Filter())

	sc := cfg.ServiceConfig()
	assert.Equal(t, "/tmp/sys", sc.SysRoot)
	assert.Equal(t, "udev", sc.Source)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEVMON_LOG_LEVEL", "warn")
	t.Setenv("DEVMON_SYSFS_ROOT", "/mnt/sys")
	t.Setenv("DEVMON_SOURCE", "kernel")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/mnt/sys", cfg.Sysfs.Root)
	assert.Equal(t, "kernel", cfg.Monitor.Source)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "monitor: [")
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"mode":        func(c *Config) { c.Logging.Mode = "verbose" },
		"level":       func(c *Config) { c.Logging.Level = "trace" },
		"root":        func(c *Config) { c.Sysfs.Root = "" },
		"source":      func(c *Config) { c.Monitor.Source = "hal" },
		"kernel+tags": func(c *Config) { c.Monitor.Source = "kernel"; c.Monitor.Tags = []string{"uaccess"} },
	}
	for name, mutate := range tests {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
	assert.NoError(t, Default().Validate())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devmon.yaml")
	writeConfig(t, path, "monitor:\n  subsystems: [usb]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, nil, func(c *Config) { changes <- c }))

	// 无效的配置被忽略
	writeConfig(t, path, "monitor:\n  source: hal\n")
	select {
	case <-changes:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(3 * reloadDebounce):
	}

	writeConfig(t, path, "monitor:\n  subsystems: [net]\n")
	select {
	case cfg := <-changes:
		assert.Equal(t, []string{"net"}, cfg.Monitor.Subsystems)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "devmon.yaml"), nil, func(*Config) {})
	assert.Error(t, err)
}
