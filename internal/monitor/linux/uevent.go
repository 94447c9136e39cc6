package linux_monitor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/Hara602/devMonitor/internal/device"
)

const (
	udevMagic      = 0xfeedcafe
	udevHeaderSize = 40
)

var (
	udevPrefix = []byte("libudev\x00")

	errMalformed = errors.New("malformed uevent")
)

// uevent 是一条解析后的内核或 udevd 消息
type uevent struct {
	action string
	props  []device.Property
}

func (u *uevent) get(k string) string {
	for _, p := range u.props {
		if p.Name == k && !p.Null {
			return p.Value
		}
	}
	return ""
}

// parseUevent 同时支持两种格式：
//
//	内核:  "add@/devices/...\0ACTION=add\0DEVPATH=...\0..."
//	udevd: 40 字节 "libudev" 头 + 属性区
func parseUevent(b []byte) (*uevent, error) {
	var body []byte
	var headerAction string

	if bytes.HasPrefix(b, udevPrefix) {
		if len(b) < udevHeaderSize {
			return nil, fmt.Errorf("%w: short udev header", errMalformed)
		}
		if binary.BigEndian.Uint32(b[8:12]) != udevMagic {
			return nil, fmt.Errorf("%w: bad udev magic", errMalformed)
		}
		off := binary.NativeEndian.Uint32(b[16:20])
		n := binary.NativeEndian.Uint32(b[20:24])
		if off < udevHeaderSize || uint64(off)+uint64(n) > uint64(len(b)) {
			return nil, fmt.Errorf("%w: properties out of range", errMalformed)
		}
		body = b[off : off+n]
	} else {
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return nil, fmt.Errorf("%w: missing header terminator", errMalformed)
		}
		act, _, ok := strings.Cut(string(b[:i]), "@")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", errMalformed, b[:i])
		}
		headerAction = act
		body = b[i+1:]
	}

	props := newPropertySet()
	for _, field := range bytes.Split(body, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		k, v, ok := strings.Cut(string(field), "=")
		if !ok {
			props.setNull(k)
			continue
		}
		if k == "DEVNAME" {
			v = devName(v)
		}
		props.set(k, v)
	}

	if props.get("DEVPATH") == "" {
		return nil, fmt.Errorf("%w: no DEVPATH", errMalformed)
	}
	action := props.get("ACTION")
	if action == "" {
		action = headerAction
	}
	return &uevent{action: action, props: props.sorted()}, nil
}
