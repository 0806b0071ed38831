//go:build !unix

package discovery

import "syscall"

// broadcastControl is a no-op outside unix; this beacon's deployment
// targets mirror transport.reusePortControl's (see socket_other.go there).
func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}
