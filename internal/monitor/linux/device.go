package linux_monitor

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/internal/device"
)

const (
	DefaultSysRoot     = "/sys"
	DefaultUdevDataDir = "/run/udev/data"
	DefaultUdevTagsDir = "/run/udev/tags"

	SourceUdev   = "udev"
	SourceKernel = "kernel"

	maxRuleLen = 64
)

// Config 描述设备服务读取数据的位置
type Config struct {
	SysRoot     string
	UdevDataDir string
	UdevTagsDir string
	// Source 为 "udev"（udevd 处理之后的事件）或 "kernel"（原始 uevent）
	Source string
}

func (c Config) withDefaults() Config {
	if c.SysRoot == "" {
		c.SysRoot = DefaultSysRoot
	}
	if c.UdevDataDir == "" {
		c.UdevDataDir = DefaultUdevDataDir
	}
	if c.UdevTagsDir == "" {
		c.UdevTagsDir = DefaultUdevTagsDir
	}
	if c.Source == "" {
		c.Source = SourceUdev
	}
	c.SysRoot = filepath.Clean(c.SysRoot)
	return c
}

// Service 是基于 sysfs、udev 数据库和 netlink 的 device.Service 实现
type Service struct {
	cfg    Config
	logger *zap.Logger
}

// Option 配置 Service
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(cfg Config, opts ...Option) *Service {
	s := &Service{cfg: cfg.withDefaults(), logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenContext 检查 sysfs 是否可用
func (s *Service) OpenContext() (device.Context, error) {
	devices := filepath.Join(s.cfg.SysRoot, "devices")
	if fi, err := os.Stat(devices); err != nil || !fi.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", devices)
		}
		return nil, fmt.Errorf("opening %s: %w: %w", devices, device.ErrResourceUnavailable, err)
	}
	realRoot, err := filepath.EvalSymlinks(s.cfg.SysRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w: %w", s.cfg.SysRoot, device.ErrResourceUnavailable, err)
	}
	return &dbContext{svc: s, realRoot: realRoot}, nil
}

// validateRule 过滤规则必须是合法的子系统名或标签名
func validateRule(value string) error {
	switch {
	case value == "":
		return errors.New("empty rule")
	case len(value) > maxRuleLen:
		return fmt.Errorf("rule longer than %d bytes", maxRuleLen)
	case strings.ContainsAny(value, "/\x00 \t\n"):
		return errors.New("rule contains '/', whitespace or NUL")
	}
	return nil
}

type dbContext struct {
	svc      *Service
	realRoot string
	closed   bool
}

func (c *dbContext) Close() error {
	if c.closed {
		return errors.New("device context already closed")
	}
	c.closed = true
	return nil
}

// ResolveDevice 返回的设备 syspath 与传入的路径完全一致
func (c *dbContext) ResolveDevice(syspath string) (device.Handle, error) {
	root := c.svc.cfg.SysRoot
	clean := filepath.Clean(syspath)
	if !strings.HasPrefix(clean, root+"/") && !strings.HasPrefix(clean, c.realRoot+"/") {
		return nil, fmt.Errorf("%s is outside %s: %w", syspath, root, device.ErrDeviceNotFound)
	}
	fi, err := os.Stat(clean)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", syspath, device.ErrDeviceNotFound)
	}
	if _, err := os.Stat(filepath.Join(clean, "uevent")); err != nil {
		return nil, fmt.Errorf("%s has no uevent: %w", syspath, device.ErrDeviceNotFound)
	}
	return c.svc.newDevice(syspath, c.realRoot), nil
}

func (c *dbContext) NewScan() (device.Scan, error) {
	if c.closed {
		return nil, errors.New("device context closed")
	}
	return &scan{ctx: c}, nil
}

func (c *dbContext) NewChannel() (device.Channel, error) {
	if c.closed {
		return nil, errors.New("device context closed")
	}
	return c.svc.newChannel(c.realRoot)
}

// sysDevice 对应 sysfs 中的一个设备目录
type sysDevice struct {
	svc      *Service
	realRoot string
	syspath  string
	action   string
	props    []device.Property
	loaded   bool
}

func (s *Service) newDevice(syspath, realRoot string) *sysDevice {
	return &sysDevice{svc: s, syspath: syspath, realRoot: realRoot}
}

func (d *sysDevice) Syspath() string { return d.syspath }

func (d *sysDevice) Action() string { return d.action }

// Release 只丢弃缓存的属性，sysfs 句柄不持有内核资源，重复调用是空操作
func (d *sysDevice) Release() {
	d.props = nil
}

// Parent 向上查找最近一个带 uevent 文件的祖先目录
func (d *sysDevice) Parent() (device.Handle, error) {
	real, err := filepath.EvalSymlinks(d.syspath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", d.syspath, device.ErrDeviceNotFound)
		}
		return nil, err
	}
	top := filepath.Join(d.realRoot, "devices")
	for p := filepath.Dir(real); strings.HasPrefix(p, top+"/"); p = filepath.Dir(p) {
		if _, err := os.Stat(filepath.Join(p, "uevent")); err == nil {
			return d.svc.newDevice(p, d.realRoot), nil
		}
	}
	return nil, nil
}

func (d *sysDevice) Properties() []device.Property {
	if !d.loaded {
		d.props = d.svc.readProperties(d.syspath, d.realRoot)
		d.loaded = true
	}
	return slices.Clone(d.props)
}

// property 返回单个属性值，找不到或为 null 时返回 ""
func (d *sysDevice) property(name string) string {
	for _, p := range d.Properties() {
		if p.Name == name && !p.Null {
			return p.Value
		}
	}
	return ""
}

// 这几个链接作为系统属性时取链接目标的文件名
var linkAttrs = map[string]bool{"driver": true, "subsystem": true, "module": true}

// AttributeNames 列出设备目录下可读的属性文件
func (d *sysDevice) AttributeNames() []string {
	entries, err := os.ReadDir(d.syspath)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if name == "uevent" {
			continue
		}
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			if linkAttrs[name] {
				names = append(names, name)
			}
		case e.Type().IsRegular():
			fi, err := e.Info()
			if err != nil || fi.Mode().Perm()&0o400 == 0 {
				continue
			}
			names = append(names, name)
		}
	}
	return names
}

// AttributeValue 每次都直接读 sysfs，不做缓存
func (d *sysDevice) AttributeValue(name string) (string, bool) {
	if name == "" || slices.Contains(strings.Split(name, "/"), "..") {
		return "", false
	}
	path := filepath.Join(d.syspath, name)
	fi, err := os.Lstat(path)
	if err != nil {
		return "", false
	}
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		if !linkAttrs[filepath.Base(name)] {
			return "", false
		}
		target, err := os.Readlink(path)
		if err != nil {
			return "", false
		}
		return filepath.Base(target), true
	case fi.Mode().IsRegular():
		b, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}
		return strings.TrimRight(string(b), " \t\r\n"), true
	}
	return "", false
}

// readProperties 合并 sysfs 和 udev 数据库中的属性，按名称排序
func (s *Service) readProperties(syspath, realRoot string) []device.Property {
	props := newPropertySet()

	devpath := strings.TrimPrefix(syspath, s.cfg.SysRoot)
	if real, err := filepath.EvalSymlinks(syspath); err == nil {
		devpath = strings.TrimPrefix(real, realRoot)
	}
	props.set("DEVPATH", devpath)

	subsystem := linkBase(filepath.Join(syspath, "subsystem"))
	if subsystem != "" {
		props.set("SUBSYSTEM", subsystem)
	}
	if driver := linkBase(filepath.Join(syspath, "driver")); driver != "" {
		props.set("DRIVER", driver)
	}

	if f, err := os.Open(filepath.Join(syspath, "uevent")); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				props.setNull(k)
				continue
			}
			if k == "DEVNAME" {
				v = devName(v)
			}
			props.set(k, v)
		}
		f.Close()
	}

	id := deviceID(subsystem, filepath.Base(syspath), props)
	if id != "" {
		s.readDatabase(id, props)
	}
	return props.sorted()
}

// readDatabase 读取 udevd 为设备写下的数据库记录
func (s *Service) readDatabase(id string, props *propertySet) {
	f, err := os.Open(filepath.Join(s.cfg.UdevDataDir, id))
	if err != nil {
		return
	}
	defer f.Close()

	var links, tags, current []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		val := line[2:]
		switch line[0] {
		case 'E':
			if k, v, ok := strings.Cut(val, "="); ok {
				props.set(k, v)
			} else {
				props.setNull(val)
			}
		case 'S':
			links = append(links, "/dev/"+val)
		case 'G':
			tags = append(tags, val)
		case 'Q':
			current = append(current, val)
		case 'I':
			props.set("USEC_INITIALIZED", val)
		}
	}
	if len(links) > 0 {
		props.set("DEVLINKS", strings.Join(links, " "))
	}
	if len(tags) > 0 {
		props.set("TAGS", ":"+strings.Join(tags, ":")+":")
	}
	if len(current) > 0 {
		props.set("CURRENT_TAGS", ":"+strings.Join(current, ":")+":")
	}
}

// deviceID 计算 udev 数据库中的文件名
func deviceID(subsystem, sysname string, props *propertySet) string {
	major, minor := props.get("MAJOR"), props.get("MINOR")
	switch {
	case major != "" && minor != "" && major != "0":
		kind := "c"
		if subsystem == "block" {
			kind = "b"
		}
		return kind + major + ":" + minor
	case props.get("IFINDEX") != "":
		return "n" + props.get("IFINDEX")
	case subsystem != "":
		return "+" + subsystem + ":" + sysname
	}
	return ""
}

func devName(v string) string {
	if v == "" || strings.HasPrefix(v, "/") {
		return v
	}
	return "/dev/" + v
}

func linkBase(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// splitTags 把 ":a:b:" 形式的标签串拆开
func splitTags(s string) []string {
	return slices.DeleteFunc(strings.Split(s, ":"), func(t string) bool { return t == "" })
}

type propertySet struct {
	values map[string]device.Property
}

func newPropertySet() *propertySet {
	return &propertySet{values: make(map[string]device.Property)}
}

func (p *propertySet) set(k, v string) { p.values[k] = device.Property{Name: k, Value: v} }

func (p *propertySet) setNull(k string) { p.values[k] = device.Property{Name: k, Null: true} }

func (p *propertySet) get(k string) string { return p.values[k].Value }

func (p *propertySet) sorted() []device.Property {
	out := make([]device.Property, 0, len(p.values))
	for _, v := range p.values {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b device.Property) int { return strings.Compare(a.Name, b.Name) })
	return out
}
