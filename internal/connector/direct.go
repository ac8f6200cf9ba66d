package connector

import (
	"context"
	"net"
	"time"

	"github.com/logscore/pmux/internal/addr"
	"github.com/logscore/pmux/internal/perr"
)

// DirectConnector dials the target directly from this host: literal
// addresses are dialed as-is, domain names are resolved first (trying
// each returned address in order, per spec) and then dialed.
type DirectConnector struct {
	Dialer   net.Dialer
	Resolver *Resolver // nil uses the default Go resolver via net.Dialer
}

// NewDirectConnector builds a DirectConnector with the given dial
// timeout and an optional Resolver; a nil resolver falls back to
// net.Dialer's own resolution for domain targets.
func NewDirectConnector(dialTimeout time.Duration, resolver *Resolver) *DirectConnector {
	return &DirectConnector{
		Dialer:   net.Dialer{Timeout: dialTimeout},
		Resolver: resolver,
	}
}

func (d *DirectConnector) Connect(ctx context.Context, target addr.Address) (net.Conn, error) {
	if target.Kind == addr.KindSocket || d.Resolver == nil {
		conn, err := d.Dialer.DialContext(ctx, "tcp", target.DialTarget())
		if err != nil {
			return nil, perr.ConnectRemoteFail(target.String(), "dial failed", err)
		}
		return conn, nil
	}

	ips, err := d.Resolver.Lookup(ctx, target.Host)
	if err != nil {
		return nil, perr.ConnectRemoteFail(target.String(), "resolve failed", err)
	}

	var lastErr error
	for _, ip := range ips {
		candidate := addr.Socket(ip, target.Port)
		conn, err := d.Dialer.DialContext(ctx, "tcp", candidate.DialTarget())
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, perr.ConnectRemoteFail(target.String(), "all resolved addresses failed", lastErr)
}
