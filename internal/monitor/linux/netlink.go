//go:build linux

package linux_monitor

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/Hara602/devMonitor/internal/device"
)

const (
	groupKernel = 1
	groupUdev   = 2

	recvBufSize = 128 * 1024
)

var (
	errUntrustedSender = errors.New("uevent from untrusted sender")
	errTruncated       = errors.New("uevent message truncated")
)

// channel 是 NETLINK_KOBJECT_UEVENT 套接字
type channel struct {
	svc        *Service
	realRoot   string
	fd         int
	group      uint32
	subsystems []string
	tags       []string
	closed     bool
	buf        []byte
	oob        []byte
}

func (s *Service) newChannel(realRoot string) (device.Channel, error) {
	group := uint32(groupUdev)
	if s.cfg.Source == SourceKernel {
		group = groupKernel
	}
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w: %w", device.ErrResourceUnavailable, err)
	}
	return &channel{
		svc:      s,
		realRoot: realRoot,
		fd:       fd,
		group:    group,
		buf:      make([]byte, 8192),
		oob:      make([]byte, unix.CmsgSpace(unix.SizeofUcred)),
	}, nil
}

func (c *channel) AddMatch(kind device.MatchKind, value string) error {
	if err := validateRule(value); err != nil {
		return err
	}
	switch kind {
	case device.MatchSubsystem:
		c.subsystems = append(c.subsystems, value)
	case device.MatchTag:
		if c.group == groupKernel {
			return errors.New("tag filters need udev events")
		}
		c.tags = append(c.tags, value)
	}
	return nil
}

func (c *channel) EnableReceiving() error {
	if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		return fmt.Errorf("SO_PASSCRED: %w", err)
	}
	// 尽量放大接收缓冲区，失败不影响使用
	_ = unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufSize)
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: c.group}
	if err := unix.Bind(c.fd, sa); err != nil {
		return fmt.Errorf("bind netlink group %d: %w", c.group, err)
	}
	return nil
}

func (c *channel) Fd() int { return c.fd }

// ReceiveOne 读取一条消息
// 没有消息或消息被过滤掉时返回 (nil, nil)
func (c *channel) ReceiveOne() (device.Handle, error) {
	if c.closed {
		return nil, errors.New("channel closed")
	}
	n, oobn, flags, from, err := unix.Recvmsg(c.fd, c.buf, c.oob, unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("recvmsg: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	if flags&unix.MSG_TRUNC != 0 {
		return nil, errTruncated
	}

	sa, ok := from.(*unix.SockaddrNetlink)
	if !ok {
		return nil, errUntrustedSender
	}
	// 内核组的消息必须来自内核本身
	if c.group == groupKernel && sa.Pid != 0 {
		return nil, errUntrustedSender
	}
	if err := checkCredentials(c.oob[:oobn]); err != nil {
		return nil, err
	}

	msg, err := parseUevent(c.buf[:n])
	if err != nil {
		return nil, err
	}
	if !c.match(msg) {
		return nil, nil
	}
	return c.svc.eventDevice(msg, c.realRoot), nil
}

func (c *channel) match(msg *uevent) bool {
	if len(c.subsystems) > 0 && !slices.Contains(c.subsystems, msg.get("SUBSYSTEM")) {
		return false
	}
	if len(c.tags) > 0 {
		have := splitTags(msg.get("TAGS"))
		if !slices.ContainsFunc(c.tags, func(t string) bool { return slices.Contains(have, t) }) {
			return false
		}
	}
	return true
}

func (c *channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// checkCredentials 只接受 root 发出的消息
func checkCredentials(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parsing control message: %w", err)
	}
	for i := range msgs {
		cred, err := unix.ParseUnixCredentials(&msgs[i])
		if err != nil {
			continue
		}
		if cred.Uid != 0 {
			return fmt.Errorf("%w: uid %d", errUntrustedSender, cred.Uid)
		}
		return nil
	}
	return fmt.Errorf("%w: no credentials", errUntrustedSender)
}

// eventDevice 用消息中的属性构造设备，不再读取 sysfs
func (s *Service) eventDevice(msg *uevent, realRoot string) *sysDevice {
	return &sysDevice{
		svc:      s,
		realRoot: realRoot,
		syspath:  filepath.Join(s.cfg.SysRoot, msg.get("DEVPATH")),
		action:   msg.action,
		props:    msg.props,
		loaded:   true,
	}
}
