//go:build linux

package linux_monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Hara602/devMonitor/internal/device"
)

func TestChannelMatch(t *testing.T) {
	msg, err := parseUevent(udevMsg("ACTION=add", "DEVPATH=/devices/usb1", "SUBSYSTEM=usb", "TAGS=:uaccess:seat:"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		subsystems []string
		tags       []string
		want       bool
	}{
		{"empty", nil, nil, true},
		{"subsystem", []string{"net", "usb"}, nil, true},
		{"other subsystem", []string{"net"}, nil, false},
		{"tag", nil, []string{"seat"}, true},
		{"other tag", nil, []string{"systemd"}, false},
		{"both", []string{"usb"}, []string{"systemd", "uaccess"}, true},
		{"subsystem but not tag", []string{"usb"}, []string{"systemd"}, false},
	}
	for _, tt := range tests {
		c := &channel{group: groupUdev, subsystems: tt.subsystems, tags: tt.tags}
		assert.Equal(t, tt.want, c.match(msg), tt.name)
	}
}

func TestChannelAddMatch(t *testing.T) {
	c := &channel{group: groupKernel}
	assert.NoError(t, c.AddMatch(device.MatchSubsystem, "usb"))
	assert.Error(t, c.AddMatch(device.MatchTag, "uaccess"), "kernel events carry no tags")
	assert.Error(t, c.AddMatch(device.MatchSubsystem, ""))

	c = &channel{group: groupUdev}
	assert.NoError(t, c.AddMatch(device.MatchTag, "uaccess"))
	assert.Equal(t, []string{"uaccess"}, c.tags)
}

func TestCheckCredentials(t *testing.T) {
	assert.NoError(t, checkCredentials(unix.UnixCredentials(&unix.Ucred{Pid: 1, Uid: 0, Gid: 0})))
	assert.ErrorIs(t, checkCredentials(unix.UnixCredentials(&unix.Ucred{Pid: 1, Uid: 1000})), errUntrustedSender)
	assert.ErrorIs(t, checkCredentials(nil), errUntrustedSender)
}

func TestEventDevice(t *testing.T) {
	svc := NewService(Config{SysRoot: "/sys"})
	msg, err := parseUevent(kernelMsg("change@/devices/virtual/net/lo",
		"ACTION=change", "DEVPATH=/devices/virtual/net/lo", "SUBSYSTEM=net"))
	require.NoError(t, err)

	d := svc.eventDevice(msg, "/sys")
	assert.Equal(t, "/sys/devices/virtual/net/lo", d.Syspath())
	assert.Equal(t, "change", d.Action())
	assert.Equal(t, "net", d.property("SUBSYSTEM"))
	d.Release()
}

func TestServiceSourceSelectsGroup(t *testing.T) {
	for source, group := range map[string]uint32{SourceUdev: groupUdev, SourceKernel: groupKernel} {
		svc := NewService(Config{Source: source})
		ch, err := svc.newChannel("/sys")
		if err != nil {
			t.Skipf("netlink unavailable: %v", err)
		}
		assert.Equal(t, group, ch.(*channel).group)
		require.NoError(t, ch.Close())
		assert.NoError(t, ch.Close(), "second close is a no-op")
	}
}
