//go:build !linux

package demux

import "net"

// setNoDelay falls back to the portable stdlib call on non-Linux
// platforms; the Linux build sets TCP_NODELAY via a raw syscall instead
// (see sockopt_linux.go).
func setNoDelay(tc *net.TCPConn) {
	tc.SetNoDelay(true)
}
