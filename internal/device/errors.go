package device

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceUnavailable 无法打开设备数据库或通知通道
	ErrResourceUnavailable = errors.New("device service unavailable")
	// ErrFilterRejected 过滤规则被服务拒绝，具体规则见 FilterRejectedError
	ErrFilterRejected = errors.New("filter rule rejected")
	// ErrDeviceNotFound syspath 无法解析为设备
	ErrDeviceNotFound = errors.New("device not found")
	// ErrIntegrity 服务返回了自相矛盾的结果
	ErrIntegrity = errors.New("device service integrity error")
)

// FilterRejectedError 携带被拒绝的那条规则
type FilterRejectedError struct {
	Kind MatchKind
	Rule string
	Err  error
}

func (e *FilterRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adding %s filter %q failed: %v", e.Kind, e.Rule, e.Err)
	}
	return fmt.Sprintf("adding %s filter %q failed", e.Kind, e.Rule)
}

func (e *FilterRejectedError) Unwrap() error { return e.Err }

func (e *FilterRejectedError) Is(target error) bool { return target == ErrFilterRejected }
