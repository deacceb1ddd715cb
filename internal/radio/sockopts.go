//go:build linux

package radio

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// setBroadcastOpts enables SO_BROADCAST and SO_REUSEADDR on a UDP socket,
// mirroring the internal/netio sender's use of a raw-conn Control callback
// to reach for golang.org/x/sys/unix rather than the limited surface
// exposed by net.UDPConn.SetXxx helpers.
func setBroadcastOpts(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		sockErr = applySockOpts(intFD)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

func applySockOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	return nil
}
