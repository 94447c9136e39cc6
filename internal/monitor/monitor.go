// Package monitor delivers live device events through a host event loop.
//
// A Monitor owns its own device-service context, one kernel notification
// channel and exactly one readiness registration. Every method except
// New must be called on the loop goroutine, the same goroutine the sink
// is invoked on.
//
// Close takes effect immediately for the Monitor (state Closing, channel
// released), but the registration's state is only freed once the loop
// confirms it will never call back again. If the loop has already picked
// the channel as ready in the batch that is running when Close is
// called, that single pending tick is discarded; callers should still be
// prepared for at most one event to arrive after requesting close when
// Close is invoked from outside a loop callback.
package monitor

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/internal/device"
	"github.com/Hara602/devMonitor/internal/loop"
	"github.com/Hara602/devMonitor/pkg/event"
)

// State 单向变化：Open -> Closing -> Closed
type State int

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "invalid"
}

var ErrNilSink = errors.New("monitor: nil sink")

// Option 配置 Monitor
type Option func(*core)

func WithLogger(l *zap.Logger) Option {
	return func(c *core) { c.logger = l }
}

// WithDropUnknownActions 丢弃动作标签不在已知集合中的事件
// 默认原样投递
func WithDropUnknownActions(drop bool) Option {
	return func(c *core) { c.dropUnknown = drop }
}

// Monitor 是应用持有的句柄
// 应用丢弃它而没有调用 Close 时，会在 GC 之后通过 loop.Post 自动关闭
type Monitor struct {
	*core
	cleanup runtime.Cleanup
}

// target 是注册回调持有的、可以被撤销的投递目标
// 关闭确认之后 core 被置空，此后的回调都是空操作
type target struct {
	core *core
}

func (t *target) onReadable() {
	if c := t.core; c != nil {
		c.onReadable()
	}
}

type core struct {
	id          uuid.UUID
	loop        Loop
	ctx         device.Context
	ch          device.Channel
	filter      device.Filter
	sink        Sink
	token       loop.Token
	holder      *target
	state       State
	dropUnknown bool
	logger      *zap.Logger
	done        chan struct{}
}

// New 创建并启动一个 Monitor
// 任何一步失败都会释放之前获得的全部资源，不会留下半打开的 Monitor
func New(svc device.Service, lp Loop, filter device.Filter, sink Sink, opts ...Option) (*Monitor, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	c := &core{
		id:     uuid.New(),
		loop:   lp,
		filter: filter.Clone(),
		sink:   sink,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(zap.String("monitor_id", c.id.String()))

	ctx, err := svc.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("opening device context: %w", err)
	}

	ch, err := ctx.NewChannel()
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("opening notification channel: %w: %w", device.ErrResourceUnavailable, err)
	}

	release := func() {
		ch.Close()
		ctx.Close()
	}

	if err := c.filter.Attach(ch); err != nil {
		release()
		return nil, err
	}
	if err := ch.EnableReceiving(); err != nil {
		release()
		return nil, fmt.Errorf("enabling receiving: %w: %w", device.ErrResourceUnavailable, err)
	}

	c.ctx, c.ch = ctx, ch
	c.holder = &target{core: c}
	token, err := lp.Register(ch.Fd(), c.holder.onReadable)
	if err != nil {
		c.holder.core = nil
		release()
		return nil, fmt.Errorf("registering fd %d: %w: %w", ch.Fd(), device.ErrResourceUnavailable, err)
	}
	c.token = token
	c.state = Open

	c.logger.Info("monitor started",
		zap.Int("fd", ch.Fd()),
		zap.Strings("subsystems", c.filter.Subsystems),
		zap.Strings("tags", c.filter.Tags))

	m := &Monitor{core: c}
	m.cleanup = runtime.AddCleanup(m, func(c *core) {
		c.loop.Post(c.close)
	}, c)
	return m, nil
}

func (c *core) ID() string { return c.id.String() }

func (c *core) State() State { return c.state }

// Filter 返回已挂载的规则副本
func (c *core) Filter() device.Filter { return c.filter.Clone() }

// Done 在进入 Closed 状态时关闭
func (c *core) Done() <-chan struct{} { return c.done }

// onReadable 每次就绪只取一条消息
// 水平触发保证还有消息时会再次回调，这样事件顺序与通道顺序一致
func (c *core) onReadable() {
	if c.state != Open {
		return
	}

	h, err := c.ch.ReceiveOne()
	if err != nil {
		c.logger.Debug("dropping unreadable message", zap.Error(err))
		return
	}
	if h == nil {
		return
	}

	rec, err := device.EventRecord(h)
	label := h.Action()
	h.Release()
	if err != nil {
		c.logger.Warn("dropping event without syspath", zap.String("action", label), zap.Error(err))
		return
	}

	action, known := event.ParseAction(label)
	if !known {
		if c.dropUnknown {
			c.logger.Debug("dropping event with unknown action",
				zap.String("action", label), zap.String("syspath", rec.Syspath))
			return
		}
		c.logger.Debug("delivering event with unknown action",
			zap.String("action", label), zap.String("syspath", rec.Syspath))
	}

	c.sink(action, rec)
}

// Close 请求关闭，重复调用是空操作
func (m *Monitor) Close() {
	m.cleanup.Stop()
	m.core.close()
}

func (c *core) close() {
	if c.state != Open {
		return
	}
	c.state = Closing

	if err := c.loop.Deregister(c.token); err != nil {
		c.logger.Warn("deregistering channel", zap.Error(err))
	}
	if err := c.ch.Close(); err != nil {
		c.logger.Warn("closing channel", zap.Error(err))
	}
	if err := c.ctx.Close(); err != nil {
		c.logger.Warn("closing device context", zap.Error(err))
	}

	// holder 的所有权转交给确认回调，由它最终释放
	holder := c.holder
	c.holder = nil
	c.loop.OnFullyStopped(c.token, func() {
		holder.core = nil
		c.sink = nil
		c.ch, c.ctx = nil, nil
		c.state = Closed
		close(c.done)
		c.logger.Info("monitor closed")
	})
}
