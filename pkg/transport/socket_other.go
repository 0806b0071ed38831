//go:build !unix

package transport

import "syscall"

// reusePortControl is a no-op outside unix: SO_REUSEPORT has no Windows
// equivalent worth emulating here.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
