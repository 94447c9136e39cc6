package monitor

import (
	"github.com/Hara602/devMonitor/internal/loop"
	"github.com/Hara602/devMonitor/pkg/event"
)

// Loop 是宿主事件循环需要提供的能力
// Monitor 不关心它是 epoll 还是别的实现，只要求所有回调都在同一个 goroutine 上执行
type Loop interface {
	// Register 在 fd 可读时（水平触发）调用 onReadable
	Register(fd int, onReadable func()) (loop.Token, error)
	// Deregister 停止就绪通知，之后不会再调用该 token 的 onReadable
	Deregister(t loop.Token) error
	// OnFullyStopped 在循环确认该 token 不会再被回调之后调用 fn
	OnFullyStopped(t loop.Token, fn func())
	// Post 是唯一可以跨 goroutine 调用的方法
	Post(fn func())
}

// Sink 接收设备事件，在循环 goroutine 上同步调用，不能阻塞
type Sink func(action event.Action, rec event.DeviceRecord)
