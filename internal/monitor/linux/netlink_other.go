//go:build !linux

package linux_monitor

import (
	"fmt"

	"github.com/Hara602/devMonitor/internal/device"
)

func (s *Service) newChannel(string) (device.Channel, error) {
	return nil, fmt.Errorf("netlink uevents need linux: %w", device.ErrResourceUnavailable)
}
