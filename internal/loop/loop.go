// Package loop is a small single-goroutine readiness loop built on
// epoll. Callbacks registered with it always run on the goroutine that
// called Run; Post is the only method that may be called from elsewhere.
package loop

import "errors"

// Token 标识一次 fd 注册
type Token uint64

var ErrUnknownToken = errors.New("unknown loop token")
