// Package demux implements the protocol demultiplexer: it accepts TCP
// connections on a single listen address and, by peeking the first
// byte, routes each one to the SOCKS5 handler (leading byte 0x05) or
// the HTTP handler (anything else) without consuming bytes the chosen
// handler still needs.
package demux

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"

	"github.com/logscore/pmux/internal/bufutil"
	"github.com/logscore/pmux/internal/connector"
	"github.com/logscore/pmux/internal/httpproxy"
	"github.com/logscore/pmux/internal/perr"
	"github.com/logscore/pmux/internal/socks5"
)

const socks5VersionByte = 0x05

// Server accepts connections on one listener and dispatches each to the
// appropriate protocol handler, one goroutine per connection.
type Server struct {
	Addr      string
	Connector connector.Connector
	Logger    *log.Logger

	ln net.Listener
}

// Bind opens the listening socket without starting to accept yet, so
// callers can learn the bound address (useful when Addr uses port 0)
// before calling Run.
func (s *Server) Bind() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// ListenAddr returns the address Bind actually bound to.
func (s *Server) ListenAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run accepts connections until ctx is cancelled or the listener fails.
// Bind must have been called first.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return perr.Other("accept incoming fail", err)
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			setNoDelay(tc)
		}

		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	first, err := bufutil.TryPeekByte(br)
	if err != nil {
		s.logf("demux: peek first byte: %v", err)
		return
	}

	var handleErr error
	if first == socks5VersionByte {
		handleErr = socks5.Handle(ctx, conn, br, s.Connector)
	} else {
		handleErr = httpproxy.Handle(ctx, conn, br, s.Connector)
	}

	if handleErr != nil {
		s.logf("demux: connection from %s: %v", conn.RemoteAddr(), handleErr)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
