// Package looptest provides a manually driven loop for tests.
package looptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Hara602/devMonitor/internal/loop"
)

type registration struct {
	fd     int
	cb     func()
	active bool
}

// Loop 模拟宿主事件循环，由测试显式地触发就绪和关闭确认
type Loop struct {
	next    loop.Token
	regs    map[loop.Token]*registration
	closing []func()

	mu     sync.Mutex
	posted []func()

	// FailRegister 为非 nil 时 Register 返回该错误
	FailRegister error

	Deregistered []loop.Token
}

func New() *Loop {
	return &Loop{regs: make(map[loop.Token]*registration)}
}

func (l *Loop) Register(fd int, cb func()) (loop.Token, error) {
	if l.FailRegister != nil {
		return 0, l.FailRegister
	}
	l.next++
	l.regs[l.next] = &registration{fd: fd, cb: cb, active: true}
	return l.next, nil
}

func (l *Loop) Deregister(t loop.Token) error {
	r, ok := l.regs[t]
	if !ok {
		return loop.ErrUnknownToken
	}
	r.active = false
	l.Deregistered = append(l.Deregistered, t)
	return nil
}

func (l *Loop) OnFullyStopped(t loop.Token, fn func()) {
	l.closing = append(l.closing, func() {
		delete(l.regs, t)
		fn()
	})
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
}

// Active 返回仍在监听的注册数
func (l *Loop) Active() int {
	n := 0
	for _, r := range l.regs {
		if r.active {
			n++
		}
	}
	return n
}

// Registered 返回尚未完全关闭的注册数
func (l *Loop) Registered() int { return len(l.regs) }

// Callback 返回 fd 当前注册的回调，即使已经 Deregister
// 用来模拟"就绪事件已经排队，关闭请求随后到达"的情况
func (l *Loop) Callback(fd int) func() {
	for _, r := range l.regs {
		if r.fd == fd {
			return r.cb
		}
	}
	return nil
}

// Ready 模拟 fd 可读，只有活动的注册会被回调
func (l *Loop) Ready(fd int) bool {
	for _, r := range l.regs {
		if r.fd == fd && r.active {
			r.cb()
			return true
		}
	}
	return false
}

// Confirm 执行所有待处理的关闭确认
func (l *Loop) Confirm() {
	for len(l.closing) > 0 {
		pending := l.closing
		l.closing = nil
		for _, fn := range pending {
			fn()
		}
	}
}

// RunPosted 执行所有 Post 进来的任务
func (l *Loop) RunPosted() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
}

// Run 执行一轮：Post 任务、关闭确认，然后返回
func (l *Loop) Run(ctx context.Context) error {
	l.RunPosted()
	l.Confirm()
	return ctx.Err()
}

func (l *Loop) Close() error {
	l.Confirm()
	return nil
}

func (l *Loop) String() string {
	return fmt.Sprintf("looptest.Loop{registered: %d, active: %d}", l.Registered(), l.Active())
}
