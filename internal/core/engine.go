package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shirou/gopsutil/disk"
	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/internal/device"
	"github.com/Hara602/devMonitor/internal/monitor"
	"github.com/Hara602/devMonitor/pkg/event"
)

// Loop 是 Engine 驱动的宿主事件循环
type Loop interface {
	monitor.Loop
	Run(ctx context.Context) error
	Close() error
}

// Engine 持有事件循环、设备服务和当前生效的 Monitor
// 过滤条件变化时用新的 Monitor 替换旧的（已挂载的规则不可修改）
type Engine struct {
	svc         device.Service
	loop        Loop
	logger      *zap.Logger
	out         io.Writer
	dropUnknown bool
	now         func() time.Time
	partitions  func() ([]disk.PartitionStat, error)

	current *monitor.Monitor
	events  int
}

// Option 配置 Engine
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithOutput(w io.Writer) Option { return func(e *Engine) { e.out = w } }

func WithDropUnknownActions(drop bool) Option { return func(e *Engine) { e.dropUnknown = drop } }

// WithPartitions 替换挂载点查询，测试中使用
func WithPartitions(fn func() ([]disk.PartitionStat, error)) Option {
	return func(e *Engine) { e.partitions = fn }
}

func NewEngine(svc device.Service, lp Loop, opts ...Option) *Engine {
	e := &Engine{
		svc:    svc,
		loop:   lp,
		logger: zap.NewNop(),
		out:    os.Stdout,
		now:    time.Now,
		partitions: func() ([]disk.PartitionStat, error) {
			return disk.Partitions(false)
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Watch 用 filter 创建新的 Monitor，成功后关闭旧的
// 新 Monitor 创建失败时旧的继续工作
// 必须在循环 goroutine 上调用（或在 Run 之前）
func (e *Engine) Watch(filter device.Filter) error {
	m, err := monitor.New(e.svc, e.loop, filter, e.handle,
		monitor.WithLogger(e.logger.Named("monitor")),
		monitor.WithDropUnknownActions(e.dropUnknown))
	if err != nil {
		return err
	}
	if e.current != nil {
		e.current.Close()
	}
	e.current = m
	return nil
}

// Reload 可以在任意 goroutine 调用，过滤条件没变时什么都不做
func (e *Engine) Reload(filter device.Filter) {
	e.loop.Post(func() {
		if e.current != nil && e.current.Filter().Equal(filter) {
			return
		}
		if err := e.Watch(filter); err != nil {
			e.logger.Error("keeping previous monitor, new filter rejected", zap.Error(err))
			return
		}
		e.logger.Info("monitor filter updated",
			zap.Strings("subsystems", filter.Subsystems), zap.Strings("tags", filter.Tags))
	})
}

// Current 返回当前的 Monitor
func (e *Engine) Current() *monitor.Monitor { return e.current }

// Events 返回已经输出的事件数量
func (e *Engine) Events() int { return e.events }

// Run 驱动事件循环直到 ctx 结束，然后关闭 Monitor 并释放循环
func (e *Engine) Run(ctx context.Context) error {
	fmt.Fprintln(e.out, "[Core] Starting device monitor engine...")

	err := e.loop.Run(ctx)
	if e.current != nil {
		e.current.Close()
	}
	if cerr := e.loop.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// handle 是 Monitor 的 sink，在循环 goroutine 上执行，不能阻塞
func (e *Engine) handle(action event.Action, rec event.DeviceRecord) {
	e.events++

	fmt.Fprintln(e.out, "------------------------------------------------")
	fmt.Fprintf(e.out, "🔴 [%s] EVENT: %s\n", e.now().Format("15:04:05"), action)
	fmt.Fprintf(e.out, "   Syspath: %s\n", rec.Syspath)
	if sub := rec.Property("SUBSYSTEM"); sub != "" {
		fmt.Fprintf(e.out, "   Subsystem: %s", sub)
		if t := rec.Property("DEVTYPE"); t != "" {
			fmt.Fprintf(e.out, " (%s)", t)
		}
		fmt.Fprintln(e.out)
	}

	// USB 设备打印厂商/产品信息
	if vid := rec.Property("ID_VENDOR_ID"); vid != "" {
		fmt.Fprintf(e.out, "   >> USB: %s:%s %s %s\n", vid, rec.Property("ID_MODEL_ID"),
			rec.Property("ID_VENDOR"), rec.Property("ID_MODEL"))
	}

	if node := rec.Property("DEVNAME"); node != "" {
		fmt.Fprintf(e.out, "   >> Node: %s\n", node)
		if rec.Property("SUBSYSTEM") == "block" && action != event.ActionRemove {
			if mp := e.mountpoint(node); mp != "" {
				fmt.Fprintf(e.out, "   >> Mounted at: %s\n", mp)
			}
		}
	}
	fmt.Fprintln(e.out, "------------------------------------------------")
}

func (e *Engine) mountpoint(node string) string {
	parts, err := e.partitions()
	if err != nil {
		e.logger.Debug("listing partitions", zap.Error(err))
		return ""
	}
	for _, p := range parts {
		if p.Device == node {
			return p.Mountpoint
		}
	}
	return ""
}
