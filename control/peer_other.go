//go:build !linux

package control

import "net"

// checkPeer relies on the socket file mode where SO_PEERCRED is unavailable.
func checkPeer(*net.UnixConn) error {
	return nil
}
