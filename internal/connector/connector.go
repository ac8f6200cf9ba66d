// Package connector abstracts "dial the requested target" behind a
// single-method interface, so SOCKS5 and HTTP CONNECT share one dialing
// implementation and tests can substitute their own.
package connector

import (
	"context"
	"net"

	"github.com/logscore/pmux/internal/addr"
)

// Connector dials a target address and returns the established
// connection, or an error classified via internal/perr.
type Connector interface {
	Connect(ctx context.Context, target addr.Address) (net.Conn, error)
}

// LoggingConnector wraps another Connector, logging each dial attempt
// and outcome, without changing dialing behavior. It composes by
// delegation rather than embedding so a caller can't accidentally bypass
// the logging by calling an inherited method.
type LoggingConnector struct {
	Next Connector
	Log  func(format string, args ...any)
}

func (l *LoggingConnector) Connect(ctx context.Context, target addr.Address) (net.Conn, error) {
	conn, err := l.Next.Connect(ctx, target)
	if err != nil {
		l.logf("connect %s failed: %v", target, err)
		return nil, err
	}
	l.logf("connect %s ok, local %s", target, conn.LocalAddr())
	return conn, nil
}

func (l *LoggingConnector) logf(format string, args ...any) {
	if l.Log != nil {
		l.Log(format, args...)
	}
}
