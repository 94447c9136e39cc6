// Package devicetest provides an in-memory device service for tests.
package devicetest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Hara602/devMonitor/internal/device"
)

// Device 描述一个虚拟设备
type Device struct {
	Syspath    string
	Subsystem  string
	Tags       []string
	Parent     string // 父设备的 syspath，根设备为空
	Properties []device.Property
	Attributes []device.Property // Null 表示读取失败

	// HideSyspath 让服务对该设备报告空 syspath
	HideSyspath bool
}

// Service 是 device.Service 的内存实现，只能在单个 goroutine 中使用
type Service struct {
	devices []*Device
	byPath  map[string]*Device

	// Unavailable 为 true 时 OpenContext 失败
	Unavailable bool
	// ScanUnavailable 为 true 时 NewScan 失败
	ScanUnavailable bool
	// Rejected 中的规则会被 AddMatch 拒绝
	Rejected map[string]bool
	// Vanished 中的设备会出现在扫描结果里，但无法解析
	Vanished map[string]bool

	nextFd   int
	channels []*Channel

	OpenedContexts int
	ClosedContexts int
	LiveHandles    int
}

var ErrRejected = errors.New("invalid rule")

// New 创建服务，设备顺序即扫描顺序
func New(devs ...Device) *Service {
	s := &Service{
		byPath:   make(map[string]*Device),
		Rejected: make(map[string]bool),
		Vanished: make(map[string]bool),
		nextFd:   100,
	}
	for i := range devs {
		s.Add(devs[i])
	}
	return s
}

// Add 追加一个设备
func (s *Service) Add(d Device) {
	dev := d
	s.devices = append(s.devices, &dev)
	s.byPath[dev.Syspath] = &dev
}

// Remove 删除一个设备
func (s *Service) Remove(syspath string) {
	delete(s.byPath, syspath)
	s.devices = slices.DeleteFunc(s.devices, func(d *Device) bool { return d.Syspath == syspath })
}

// Channels 返回所有创建过的通道
func (s *Service) Channels() []*Channel { return s.channels }

// LiveContexts 返回尚未释放的上下文数量
func (s *Service) LiveContexts() int { return s.OpenedContexts - s.ClosedContexts }

// Emit 模拟内核发出一条事件，投递给所有已启用且匹配的通道
// 设备不存在时仍然投递（例如 remove 事件），只是属性为空
func (s *Service) Emit(action, syspath string) {
	dev, ok := s.byPath[syspath]
	if !ok {
		dev = &Device{Syspath: syspath}
	}
	for _, ch := range s.channels {
		if ch.closed || !ch.enabled || !ch.rules.match(dev) {
			continue
		}
		ch.queue = append(ch.queue, queued{action: action, dev: dev})
	}
}

func (s *Service) OpenContext() (device.Context, error) {
	if s.Unavailable {
		return nil, fmt.Errorf("open context: %w", device.ErrResourceUnavailable)
	}
	s.OpenedContexts++
	return &dbContext{svc: s}, nil
}

func (s *Service) validate(value string) error {
	if value == "" || s.Rejected[value] {
		return ErrRejected
	}
	return nil
}

type dbContext struct {
	svc    *Service
	closed bool
}

func (c *dbContext) ResolveDevice(syspath string) (device.Handle, error) {
	if c.svc.Vanished[syspath] {
		return nil, device.ErrDeviceNotFound
	}
	dev, ok := c.svc.byPath[syspath]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return c.svc.newHandle(dev, ""), nil
}

func (c *dbContext) NewScan() (device.Scan, error) {
	if c.svc.ScanUnavailable {
		return nil, errors.New("scan unavailable")
	}
	return &scan{svc: c.svc}, nil
}

func (c *dbContext) NewChannel() (device.Channel, error) {
	c.svc.nextFd++
	ch := &Channel{svc: c.svc, fd: c.svc.nextFd}
	c.svc.channels = append(c.svc.channels, ch)
	return ch, nil
}

func (c *dbContext) Close() error {
	if c.closed {
		panic("devicetest: context closed twice")
	}
	c.closed = true
	c.svc.ClosedContexts++
	return nil
}

type rules struct {
	subsystems []string
	tags       []string
}

func (r *rules) add(kind device.MatchKind, value string) {
	switch kind {
	case device.MatchSubsystem:
		r.subsystems = append(r.subsystems, value)
	case device.MatchTag:
		r.tags = append(r.tags, value)
	}
}

func (r *rules) match(d *Device) bool {
	if len(r.subsystems) > 0 && !slices.Contains(r.subsystems, d.Subsystem) {
		return false
	}
	if len(r.tags) > 0 && !slices.ContainsFunc(r.tags, func(t string) bool { return slices.Contains(d.Tags, t) }) {
		return false
	}
	return true
}

type scan struct {
	svc     *Service
	rules   rules
	results []string
}

func (s *scan) AddMatch(kind device.MatchKind, value string) error {
	if err := s.svc.validate(value); err != nil {
		return err
	}
	s.rules.add(kind, value)
	return nil
}

func (s *scan) Execute() error {
	s.results = nil
	for _, d := range s.svc.devices {
		if s.rules.match(d) {
			s.results = append(s.results, d.Syspath)
		}
	}
	for p := range s.svc.Vanished {
		if _, ok := s.svc.byPath[p]; !ok {
			s.results = append(s.results, p)
		}
	}
	return nil
}

func (s *scan) Results() []string { return s.results }

type queued struct {
	action string
	dev    *Device
}

// Channel 是内存中的通知通道
type Channel struct {
	svc     *Service
	fd      int
	rules   rules
	enabled bool
	closed  bool
	queue   []queued

	// FailNext 为 true 时下一次 ReceiveOne 返回错误
	FailNext bool
}

func (c *Channel) AddMatch(kind device.MatchKind, value string) error {
	if err := c.svc.validate(value); err != nil {
		return err
	}
	c.rules.add(kind, value)
	return nil
}

func (c *Channel) EnableReceiving() error {
	c.enabled = true
	return nil
}

func (c *Channel) Fd() int { return c.fd }

// Pending 返回尚未被读取的消息数
func (c *Channel) Pending() int { return len(c.queue) }

func (c *Channel) Closed() bool { return c.closed }

func (c *Channel) ReceiveOne() (device.Handle, error) {
	if c.closed {
		return nil, errors.New("channel closed")
	}
	if c.FailNext {
		c.FailNext = false
		if len(c.queue) > 0 {
			c.queue = c.queue[1:]
		}
		return nil, errors.New("malformed message")
	}
	if len(c.queue) == 0 {
		return nil, nil
	}
	q := c.queue[0]
	c.queue = c.queue[1:]
	return c.svc.newHandle(q.dev, q.action), nil
}

func (c *Channel) Close() error {
	if c.closed {
		panic("devicetest: channel closed twice")
	}
	c.closed = true
	return nil
}

type handle struct {
	svc      *Service
	dev      *Device
	action   string
	released bool
}

func (s *Service) newHandle(d *Device, action string) *handle {
	s.LiveHandles++
	return &handle{svc: s, dev: d, action: action}
}

func (h *handle) Syspath() string {
	if h.dev.HideSyspath {
		return ""
	}
	return h.dev.Syspath
}

func (h *handle) Action() string { return h.action }

func (h *handle) Parent() (device.Handle, error) {
	if h.dev.Parent == "" {
		return nil, nil
	}
	p, ok := h.svc.byPath[h.dev.Parent]
	if !ok {
		return nil, nil
	}
	return h.svc.newHandle(p, ""), nil
}

func (h *handle) Properties() []device.Property {
	return slices.Clone(h.dev.Properties)
}

func (h *handle) AttributeNames() []string {
	names := make([]string, len(h.dev.Attributes))
	for i, a := range h.dev.Attributes {
		names[i] = a.Name
	}
	return names
}

func (h *handle) AttributeValue(name string) (string, bool) {
	for _, a := range h.dev.Attributes {
		if a.Name == name {
			return a.Value, !a.Null
		}
	}
	return "", false
}

func (h *handle) Release() {
	if h.released {
		panic("devicetest: handle released twice")
	}
	h.released = true
	h.svc.LiveHandles--
}
