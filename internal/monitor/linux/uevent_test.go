package linux_monitor

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kernelMsg(header string, fields ...string) []byte {
	return []byte(header + "\x00" + strings.Join(fields, "\x00") + "\x00")
}

func udevMsg(fields ...string) []byte {
	body := []byte(strings.Join(fields, "\x00") + "\x00")
	b := make([]byte, udevHeaderSize, udevHeaderSize+len(body))
	copy(b, udevPrefix)
	binary.BigEndian.PutUint32(b[8:12], udevMagic)
	binary.NativeEndian.PutUint32(b[12:16], udevHeaderSize)
	binary.NativeEndian.PutUint32(b[16:20], udevHeaderSize)
	binary.NativeEndian.PutUint32(b[20:24], uint32(len(body)))
	return append(b, body...)
}

func TestParseKernelUevent(t *testing.T) {
	msg, err := parseUevent(kernelMsg("add@/devices/virtual/net/lo",
		"ACTION=add", "DEVPATH=/devices/virtual/net/lo", "SUBSYSTEM=net", "INTERFACE=lo", "SEQNUM=42"))
	require.NoError(t, err)

	assert.Equal(t, "add", msg.action)
	assert.Equal(t, "/devices/virtual/net/lo", msg.get("DEVPATH"))
	assert.Equal(t, "net", msg.get("SUBSYSTEM"))
	assert.Equal(t, "42", msg.get("SEQNUM"))
	assert.Equal(t, "", msg.get("MISSING"))
}

func TestParseKernelUeventActionFromHeader(t *testing.T) {
	msg, err := parseUevent(kernelMsg("bind@/devices/x", "DEVPATH=/devices/x", "DEVNAME=ttyS0", "FLAG"))
	require.NoError(t, err)
	assert.Equal(t, "bind", msg.action)
	assert.Equal(t, "/dev/ttyS0", msg.get("DEVNAME"))

	var flag bool
	for _, p := range msg.props {
		if p.Name == "FLAG" {
			flag = p.Null
		}
	}
	assert.True(t, flag, "a field without '=' is a null property")
}

func TestParseUdevUevent(t *testing.T) {
	msg, err := parseUevent(udevMsg("ACTION=remove", "DEVPATH=/devices/pci0000:00/usb1", "SUBSYSTEM=usb",
		"TAGS=:uaccess:seat:", "ID_VENDOR=Linux"))
	require.NoError(t, err)
	assert.Equal(t, "remove", msg.action)
	assert.Equal(t, "usb", msg.get("SUBSYSTEM"))
	assert.Equal(t, ":uaccess:seat:", msg.get("TAGS"))
}

func TestParseUeventUnknownAction(t *testing.T) {
	msg, err := parseUevent(kernelMsg("@/devices/x", "DEVPATH=/devices/x"))
	require.NoError(t, err)
	assert.Equal(t, "", msg.action)

	msg, err = parseUevent(udevMsg("ACTION=frobnicate", "DEVPATH=/devices/x"))
	require.NoError(t, err)
	assert.Equal(t, "frobnicate", msg.action)
}

func TestParseUeventMalformed(t *testing.T) {
	good := udevMsg("ACTION=add", "DEVPATH=/devices/x")

	badMagic := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(badMagic[8:12], 0xdeadbeef)

	outOfRange := append([]byte(nil), good...)
	binary.NativeEndian.PutUint32(outOfRange[20:24], 4096)

	insideHeader := append([]byte(nil), good...)
	binary.NativeEndian.PutUint32(insideHeader[16:20], 8)

	tests := map[string][]byte{
		"no terminator":   []byte("add@/devices/x"),
		"no at sign":      kernelMsg("add /devices/x", "DEVPATH=/devices/x"),
		"no devpath":      kernelMsg("add@/devices/x", "ACTION=add"),
		"short header":    []byte("libudev\x00\xfe\xed"),
		"bad magic":       badMagic,
		"out of range":    outOfRange,
		"inside header":   insideHeader,
		"udev no devpath": udevMsg("ACTION=add", "SUBSYSTEM=usb"),
	}
	for name, b := range tests {
		_, err := parseUevent(b)
		assert.ErrorIs(t, err, errMalformed, name)
	}
}
