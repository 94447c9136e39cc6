package linux_monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/devMonitor/internal/device"
)

// fakeSys 在临时目录里搭一棵最小的 sysfs 和 udev 数据库
type fakeSys struct {
	root, data, tags string
}

func (f *fakeSys) path(rel string) string { return filepath.Join(f.root, rel) }

func (f *fakeSys) file(t *testing.T, rel, content string, mode os.FileMode) {
	t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
}

func (f *fakeSys) link(t *testing.T, rel, target string) {
	t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(f.root, target), p))
}

func (f *fakeSys) dir(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, rel), 0o755))
}

const (
	pciRoot = "devices/pci0000:00"
	xhci    = "devices/pci0000:00/0000:00:14.0"
	usb1    = "devices/pci0000:00/0000:00:14.0/usb1"
	lo      = "devices/virtual/net/lo"
)

func newFakeSys(t *testing.T) *fakeSys {
	t.Helper()
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	f := &fakeSys{
		root: filepath.Join(base, "sys"),
		data: filepath.Join(base, "udev", "data"),
		tags: filepath.Join(base, "udev", "tags"),
	}

	f.file(t, pciRoot+"/uevent", "", 0o644)

	f.file(t, xhci+"/uevent", "DRIVER=xhci_hcd\nPCI_ID=8086:A36D\n", 0o644)
	f.file(t, xhci+"/vendor", "0x8086\n", 0o444)
	f.file(t, xhci+"/remove", "", 0o200)
	f.dir(t, xhci+"/power")
	f.dir(t, "bus/pci/drivers/xhci_hcd")
	f.link(t, xhci+"/subsystem", "bus/pci")
	f.link(t, xhci+"/driver", "bus/pci/drivers/xhci_hcd")
	f.link(t, xhci+"/firmware_node", pciRoot)

	f.file(t, usb1+"/uevent", "MAJOR=189\nMINOR=0\nDEVNAME=bus/usb/001/001\nDEVTYPE=usb_device\nBROKEN\n", 0o644)
	f.file(t, usb1+"/idVendor", "1d6b\n", 0o444)
	f.link(t, usb1+"/subsystem", "bus/usb")

	f.file(t, lo+"/uevent", "INTERFACE=lo\nIFINDEX=1\n", 0o644)
	f.file(t, lo+"/mtu", "65536\n", 0o644)
	f.link(t, lo+"/subsystem", "class/net")

	f.link(t, "bus/pci/devices/0000:00:14.0", xhci)
	f.link(t, "bus/usb/devices/usb1", usb1)
	f.link(t, "class/net/lo", lo)

	require.NoError(t, os.MkdirAll(f.data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.data, "c189:0"),
		[]byte("S:bus/usb/001\nE:ID_VENDOR=Linux\nE:ID_NOVALUE\nG:uaccess\nQ:uaccess\nI:12345\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(f.tags, "systemd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.tags, "systemd", "n1"), nil, 0o644))
	return f
}

func (f *fakeSys) service() *Service {
	return NewService(Config{SysRoot: f.root, UdevDataDir: f.data, UdevTagsDir: f.tags})
}

func openCtx(t *testing.T, f *fakeSys) device.Context {
	t.Helper()
	ctx, err := f.service().OpenContext()
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func propMap(h device.Handle) map[string]device.Property {
	m := make(map[string]device.Property)
	for _, p := range h.Properties() {
		m[p.Name] = p
	}
	return m
}

func TestOpenContextMissingSysfs(t *testing.T) {
	svc := NewService(Config{SysRoot: filepath.Join(t.TempDir(), "nope")})
	_, err := svc.OpenContext()
	assert.ErrorIs(t, err, device.ErrResourceUnavailable)
}

func TestContextDoubleClose(t *testing.T) {
	f := newFakeSys(t)
	ctx, err := f.service().OpenContext()
	require.NoError(t, err)
	require.NoError(t, ctx.Close())
	assert.Error(t, ctx.Close())

	_, err = ctx.NewScan()
	assert.Error(t, err)
}

func TestResolveDevice(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	h, err := ctx.ResolveDevice(f.path(usb1))
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, f.path(usb1), h.Syspath())
	props := propMap(h)
	assert.Equal(t, "/"+usb1, props["DEVPATH"].Value)
	assert.Equal(t, "usb", props["SUBSYSTEM"].Value)
	assert.Equal(t, "/dev/bus/usb/001/001", props["DEVNAME"].Value)
	assert.Equal(t, "usb_device", props["DEVTYPE"].Value)
	assert.True(t, props["BROKEN"].Null)

	// udev 数据库
	assert.Equal(t, "Linux", props["ID_VENDOR"].Value)
	assert.True(t, props["ID_NOVALUE"].Null)
	assert.Equal(t, "/dev/bus/usb/001", props["DEVLINKS"].Value)
	assert.Equal(t, ":uaccess:", props["TAGS"].Value)
	assert.Equal(t, ":uaccess:", props["CURRENT_TAGS"].Value)
	assert.Equal(t, "12345", props["USEC_INITIALIZED"].Value)

	names := make([]string, 0, len(props))
	for _, p := range h.Properties() {
		names = append(names, p.Name)
	}
	assert.IsNonDecreasing(t, names)
}

func TestResolveKeepsExactSyspath(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	h, err := ctx.ResolveDevice(f.path("class/net/lo"))
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, f.path("class/net/lo"), h.Syspath())
	props := propMap(h)
	assert.Equal(t, "/"+lo, props["DEVPATH"].Value)
	assert.Equal(t, "net", props["SUBSYSTEM"].Value)
	assert.Equal(t, "lo", props["INTERFACE"].Value)
}

func TestResolveDeviceNotFound(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	for _, p := range []string{
		"/nonexistent",
		f.path("devices/pci0000:00/none"),
		f.path(xhci + "/power"), // 没有 uevent
		f.path(xhci + "/vendor"),
	} {
		_, err := ctx.ResolveDevice(p)
		assert.ErrorIs(t, err, device.ErrDeviceNotFound, p)
	}
}

func TestParent(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	h, err := ctx.ResolveDevice(f.path(usb1))
	require.NoError(t, err)
	defer h.Release()

	p, err := h.Parent()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, f.path(xhci), p.Syspath())
	assert.Equal(t, "xhci_hcd", propMap(p)["DRIVER"].Value)

	gp, err := p.Parent()
	require.NoError(t, err)
	require.NotNil(t, gp)
	assert.Equal(t, f.path(pciRoot), gp.Syspath())

	none, err := gp.Parent()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAttributes(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	h, err := ctx.ResolveDevice(f.path(xhci))
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, []string{"driver", "subsystem", "vendor"}, h.AttributeNames())

	v, ok := h.AttributeValue("vendor")
	assert.True(t, ok)
	assert.Equal(t, "0x8086", v)

	v, ok = h.AttributeValue("driver")
	assert.True(t, ok)
	assert.Equal(t, "xhci_hcd", v)

	for _, name := range []string{"power", "missing", "../usb1/idVendor", "firmware_node", ""} {
		_, ok := h.AttributeValue(name)
		assert.False(t, ok, name)
	}
}

func scanPaths(t *testing.T, ctx device.Context, subsystems, tags []string) []string {
	t.Helper()
	s, err := ctx.NewScan()
	require.NoError(t, err)
	for _, v := range subsystems {
		require.NoError(t, s.AddMatch(device.MatchSubsystem, v))
	}
	for _, v := range tags {
		require.NoError(t, s.AddMatch(device.MatchTag, v))
	}
	require.NoError(t, s.Execute())
	return s.Results()
}

func TestScan(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	assert.Equal(t, []string{f.path(xhci), f.path(usb1), f.path(lo)}, scanPaths(t, ctx, nil, nil))
	assert.Equal(t, []string{f.path(usb1)}, scanPaths(t, ctx, []string{"usb"}, nil))
	assert.Equal(t, []string{f.path(xhci), f.path(lo)}, scanPaths(t, ctx, []string{"net", "pci"}, nil))
	assert.Empty(t, scanPaths(t, ctx, []string{"sound"}, nil))
}

func TestScanTags(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	// uaccess 来自数据库的 G: 行，systemd 来自 tags 目录
	assert.Equal(t, []string{f.path(usb1)}, scanPaths(t, ctx, nil, []string{"uaccess"}))
	assert.Equal(t, []string{f.path(lo)}, scanPaths(t, ctx, nil, []string{"systemd"}))
	assert.Equal(t, []string{f.path(usb1), f.path(lo)}, scanPaths(t, ctx, nil, []string{"uaccess", "systemd"}))
	assert.Empty(t, scanPaths(t, ctx, []string{"usb"}, []string{"systemd"}))
}

func TestEnumerateThroughClient(t *testing.T) {
	f := newFakeSys(t)
	recs, err := device.NewClient(f.service(), nil).Enumerate(device.Filter{Subsystems: []string{"usb"}}, true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, f.path(usb1), recs[0].Syspath)
	assert.Equal(t, "Linux", recs[0].Property("ID_VENDOR"))
	assert.Equal(t, []string{"idVendor", "subsystem"}, recs[0].Sysattrs.Keys())

	_, err = device.NewClient(f.service(), nil).Enumerate(device.Filter{Subsystems: []string{"a/b"}}, false)
	assert.ErrorIs(t, err, device.ErrFilterRejected)
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, validateRule("usb"))
	assert.NoError(t, validateRule("uaccess"))
	assert.Error(t, validateRule(""))
	assert.Error(t, validateRule("a/b"))
	assert.Error(t, validateRule("has space"))
	assert.Error(t, validateRule("nul\x00"))
	assert.Error(t, validateRule(strings.Repeat("x", maxRuleLen+1)))
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		subsystem string
		props     map[string]string
		want      string
	}{
		{"block", map[string]string{"MAJOR": "8", "MINOR": "1"}, "b8:1"},
		{"tty", map[string]string{"MAJOR": "4", "MINOR": "64"}, "c4:64"},
		{"net", map[string]string{"IFINDEX": "2"}, "n2"},
		{"pci", map[string]string{"MAJOR": "0", "MINOR": "0"}, "+pci:dev0"},
		{"", map[string]string{}, ""},
	}
	for _, tt := range tests {
		p := newPropertySet()
		for k, v := range tt.props {
			p.set(k, v)
		}
		assert.Equal(t, tt.want, deviceID(tt.subsystem, "dev0", p))
	}
}

func TestReleaseIsRepeatable(t *testing.T) {
	f := newFakeSys(t)
	ctx := openCtx(t, f)

	h, err := ctx.ResolveDevice(f.path(usb1))
	require.NoError(t, err)
	require.NotEmpty(t, h.Properties())

	assert.NotPanics(t, func() {
		h.Release()
		h.Release()
	})
	assert.Empty(t, h.Properties(), "cached properties are dropped on release")
	assert.Equal(t, f.path(usb1), h.Syspath())
}
