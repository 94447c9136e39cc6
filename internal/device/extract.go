package device

import "github.com/Hara602/devMonitor/pkg/event"

// ExtractProperties 按服务给出的顺序复制全部属性
// 值为 null 的属性保留为显式 null，不会被丢弃
func ExtractProperties(h Handle) *event.Map {
	m := &event.Map{}
	for _, p := range h.Properties() {
		if p.Null {
			m.Set(p.Name, event.Null())
		} else {
			m.Set(p.Name, event.String(p.Value))
		}
	}
	return m
}

// ExtractSysattrs 复制全部系统属性
// 使用 AttributeValue 逐个读取，因为系统属性是实时计算的，可能与缓存的属性不同
func ExtractSysattrs(h Handle) *event.Map {
	m := &event.Map{}
	for _, name := range h.AttributeNames() {
		if v, ok := h.AttributeValue(name); ok {
			m.Set(name, event.String(v))
		} else {
			m.Set(name, event.Null())
		}
	}
	return m
}

// newRecord 构造一条记录，syspath 为空时返回 ErrIntegrity
func newRecord(h Handle, withSysattrs bool) (event.DeviceRecord, error) {
	path := h.Syspath()
	if path == "" {
		return event.DeviceRecord{}, ErrIntegrity
	}
	rec := event.DeviceRecord{
		Syspath:    path,
		Properties: ExtractProperties(h),
	}
	if withSysattrs {
		rec.Sysattrs = ExtractSysattrs(h)
	}
	return rec, nil
}

// EventRecord 构造监控事件使用的记录：只包含 syspath 和属性
func EventRecord(h Handle) (event.DeviceRecord, error) {
	return newRecord(h, false)
}
