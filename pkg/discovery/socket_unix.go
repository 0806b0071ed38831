//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// broadcastControl sets SO_BROADCAST on the beacon's socket. Go does not
// enable it by default, so without this the first WriteToUDP to a
// broadcast address fails with EACCES on Linux.
func broadcastControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
