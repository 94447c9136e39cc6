//go:build linux

package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type handle struct {
	token  Token
	fd     int
	onRead func()
	active bool
}

// Loop 是基于 epoll 的水平触发事件循环
type Loop struct {
	epfd   int
	wakefd int
	logger *zap.Logger

	next    Token
	handles map[Token]*handle
	byFd    map[int]*handle
	closing []func()

	mu      sync.Mutex
	posted  []func()
	stopped bool
	closed  bool
}

// Option 配置 Loop
type Option func(*Loop)

func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// New 创建事件循环
func New(opts ...Option) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wakefd: %w", err)
	}

	l := &Loop{
		epfd:    epfd,
		wakefd:  wakefd,
		logger:  zap.NewNop(),
		handles: make(map[Token]*handle),
		byFd:    make(map[int]*handle),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Register 监听 fd 的可读事件（水平触发），回调在循环 goroutine 上执行
func (l *Loop) Register(fd int, onReadable func()) (Token, error) {
	if _, dup := l.byFd[fd]; dup {
		return 0, fmt.Errorf("fd %d already registered", fd)
	}
	l.next++
	h := &handle{token: l.next, fd: fd, onRead: onReadable, active: true}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd), Pad: int32(h.token)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	l.handles[h.token] = h
	l.byFd[fd] = h
	l.logger.Debug("fd registered", zap.Int("fd", fd), zap.Uint64("token", uint64(h.token)))
	return h.token, nil
}

// Deregister 停止 fd 的就绪通知
// 返回之后该 token 的回调不会再被调用，即使它已经出现在当前这一批就绪事件中
func (l *Loop) Deregister(t Token) error {
	h, ok := l.handles[t]
	if !ok {
		return ErrUnknownToken
	}
	if !h.active {
		return nil
	}
	h.active = false
	delete(l.byFd, h.fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, h.fd, nil); err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", h.fd, err)
	}
	return nil
}

// OnFullyStopped 在当前这一批就绪事件处理完之后调用 fn，并忘记该 token
// 调用前必须先 Deregister
func (l *Loop) OnFullyStopped(t Token, fn func()) {
	l.closing = append(l.closing, func() {
		delete(l.handles, t)
		fn()
	})
	l.wake()
}

// Post 把 fn 安排到循环 goroutine 上执行，可以在任意 goroutine 调用
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.wake()
}

// Stop 让 Run 在当前迭代结束后返回，可以在任意 goroutine 调用
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.wake()
}

// Len 返回尚未完全关闭的注册数量
func (l *Loop) Len() int { return len(l.handles) }

func (l *Loop) wake() {
	var one = [8]byte{1}
	// 计数器满时返回 EAGAIN，此时循环本来就会被唤醒
	_, _ = unix.Write(l.wakefd, one[:])
}

func (l *Loop) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(l.wakefd, buf[:])
}

// Run 驱动事件循环，直到 Stop 被调用或 ctx 结束
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	events := make([]unix.EpollEvent, 64)
	for {
		l.runClosing()
		if l.runPosted() {
			return ctx.Err()
		}

		timeout := -1
		if len(l.closing) > 0 {
			timeout = 0
		}
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakefd {
				l.drainWake()
				continue
			}
			h, ok := l.byFd[fd]
			if !ok || !h.active || int32(h.token) != events[i].Pad {
				continue
			}
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				h.onRead()
			}
		}
	}
}

func (l *Loop) runClosing() {
	for len(l.closing) > 0 {
		pending := l.closing
		l.closing = nil
		for _, fn := range pending {
			fn()
		}
	}
}

// runPosted 执行 Post 进来的任务，返回是否应该停止
func (l *Loop) runPosted() bool {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	stopped := l.stopped
	l.stopped = false
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
	return stopped
}

// Close 释放 epoll 和 eventfd，必须在 Run 返回之后调用
// 尚未完成的关闭确认回调会在这里执行
func (l *Loop) Close() error {
	l.runClosing()
	l.mu.Lock()
	l.closed = true
	l.posted = nil
	l.mu.Unlock()

	err := errors.Join(unix.Close(l.wakefd), unix.Close(l.epfd))
	if err != nil {
		return fmt.Errorf("closing loop: %w", err)
	}
	return nil
}
