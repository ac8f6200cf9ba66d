//go:build linux

package demux

import (
	"net"

	"golang.org/x/sys/unix"
)

// setNoDelay disables Nagle's algorithm on an accepted connection via a
// raw syscall, mirroring how a dialer would configure the socket before
// connect(2) -- here applied after accept(2) instead, since demux never
// dials the client side.
func setNoDelay(tc *net.TCPConn) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
