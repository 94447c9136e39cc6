package device

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/pkg/event"
)

// Client 是面向应用的同步接口：枚举和单设备查询
// 每次调用都会打开并释放自己的 Context
type Client struct {
	svc    Service
	logger *zap.Logger
}

// NewClient 创建客户端，logger 为 nil 时不输出日志
func NewClient(svc Service, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{svc: svc, logger: logger}
}

// Enumerate 返回当前所有匹配 filter 的设备
func (c *Client) Enumerate(filter Filter, includeSysattrs bool) ([]event.DeviceRecord, error) {
	var out []event.DeviceRecord
	err := WithContext(c.svc, func(ctx Context) error {
		var err error
		out, err = ScanDevices(ctx, filter, includeSysattrs, c.logger)
		return err
	})
	return out, err
}

// ScanDevices 在给定上下文上执行一次设备树扫描
// 列出之后、解析之前消失的设备会被跳过，不会中断整个扫描
func ScanDevices(ctx Context, filter Filter, includeSysattrs bool, logger *zap.Logger) ([]event.DeviceRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	scan, err := ctx.NewScan()
	if err != nil {
		return nil, fmt.Errorf("creating scan: %w: %w", ErrResourceUnavailable, err)
	}
	if err := filter.attach(scan); err != nil {
		return nil, err
	}
	if err := scan.Execute(); err != nil {
		return nil, fmt.Errorf("executing scan: %w: %w", ErrResourceUnavailable, err)
	}

	records := []event.DeviceRecord{}
	for _, path := range scan.Results() {
		h, err := ctx.ResolveDevice(path)
		if err != nil {
			logger.Debug("skipping device that vanished during scan",
				zap.String("syspath", path), zap.Error(err))
			continue
		}
		records = append(records, scanRecord(h, path, includeSysattrs))
	}
	return records, nil
}

// scanRecord 使用扫描结果中的路径作为 syspath，并释放句柄
func scanRecord(h Handle, path string, includeSysattrs bool) event.DeviceRecord {
	defer h.Release()
	rec := event.DeviceRecord{
		Syspath:    path,
		Properties: ExtractProperties(h),
	}
	if includeSysattrs {
		rec.Sysattrs = ExtractSysattrs(h)
	}
	return rec
}
