// Package relay implements the bidirectional byte-copy engine shared by
// both the SOCKS5 and HTTP CONNECT handlers once a tunnel is
// established: read from one side, write to the other, in both
// directions at once, until both sides are drained or either errs.
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Result reports how many bytes crossed in each direction, so callers
// can log or account for traffic per connection.
type Result struct {
	LeftToRight int64
	RightToLeft int64
}

// halfCloser is implemented by *net.TCPConn and anything else that can
// propagate a half-close to its peer without tearing down the whole
// connection.
type halfCloser interface {
	CloseWrite() error
}

// Copy pumps bytes in both directions between left and right until both
// halves reach clean EOF, or either half errors -- in which case Copy
// closes both connections (to unblock whichever half is still mid-read)
// and returns that error, with the Result reflecting whatever was
// transferred before it happened. leftLabel and rightLabel are used
// only to build error messages; the handlers pass "local" (without the
// target address) and "remote(<addr>)".
func Copy(left, right io.ReadWriteCloser, leftLabel, rightLabel string) (Result, error) {
	var guardLeft, guardRight atomic.Bool // guardLeft: writes to left are refused; guardRight: writes to right are refused

	var g errgroup.Group
	var res Result

	g.Go(func() error {
		n, err := halfCopy(left, right, rightLabel, &guardRight, &guardLeft)
		res.LeftToRight = n
		if err != nil {
			left.Close()
			right.Close()
		}
		return err
	})
	g.Go(func() error {
		n, err := halfCopy(right, left, leftLabel, &guardLeft, &guardRight)
		res.RightToLeft = n
		if err != nil {
			left.Close()
			right.Close()
		}
		return err
	})

	return res, g.Wait()
}

// halfCopy reads from src until EOF or error, writing everything read
// to dst. writeGuard is checked before every write (tripped by the
// opposite half once its own read side reaches EOF, meaning the peer it
// reads from is gone and further writes here are pointless); readGuard
// is the guard this half sets for the opposite half once src reaches
// clean EOF.
func halfCopy(src io.Reader, dst io.Writer, dstLabel string, writeGuard, readGuard *atomic.Bool) (int64, error) {
	bw := bufio.NewWriter(dst)
	buf := make([]byte, 32*1024)
	var total int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if writeGuard.Load() {
				return total, fmt.Errorf("%s unexpected closed, remain %d bytes to write", dstLabel, n)
			}
			w, werr := bw.Write(buf[:n])
			if werr != nil {
				return total, fmt.Errorf("write %s fail: %w", dstLabel, werr)
			}
			if w == 0 {
				return total, fmt.Errorf("write %s zero bytes", dstLabel)
			}
			total += int64(w)
			if ferr := bw.Flush(); ferr != nil {
				return total, fmt.Errorf("flush %s fail: %w", dstLabel, ferr)
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				readGuard.Store(true)
				if hc, ok := dst.(halfCloser); ok {
					_ = hc.CloseWrite()
				}
				return total, nil
			}
			return total, fmt.Errorf("read %s fail: %w", dstLabel, rerr)
		}
	}
}
