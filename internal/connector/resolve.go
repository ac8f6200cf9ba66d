package connector

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"

	"github.com/miekg/dns"
)

// Resolver looks up A records (not AAAA) for a domain target by talking
// directly to the host's configured upstream nameserver, the way the
// teacher's forwarding DNS server picks an upstream to forward to --
// except here the lookup result is consumed by the connector instead of
// being relayed back over the wire to a client.
type Resolver struct {
	upstream string // "ip:port", discovered once at construction
}

// NewResolver discovers the system's upstream nameserver and returns a
// Resolver that queries it directly.
func NewResolver() *Resolver {
	return &Resolver{upstream: findUpstream()}
}

// Lookup returns the A-record addresses for host, in the order the
// upstream nameserver returned them.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if r.upstream == "" {
		return nil, fmt.Errorf("connector: no upstream nameserver available")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := new(dns.Client)
	resp, _, err := c.ExchangeContext(ctx, msg, r.upstream)
	if err != nil {
		return nil, fmt.Errorf("connector: query %s via %s: %w", host, r.upstream, err)
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("connector: no A records for %s", host)
	}
	return ips, nil
}

// findUpstream discovers the system's configured DNS resolver.
func findUpstream() string {
	switch runtime.GOOS {
	case "darwin":
		return findUpstreamDarwin()
	default:
		return findUpstreamLinux()
	}
}

func findUpstreamDarwin() string {
	out, err := exec.Command("scutil", "--dns").Output()
	if err != nil {
		return "8.8.8.8:53"
	}

	for line := range strings.SplitSeq(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "nameserver[0]") || strings.HasPrefix(line, "nameserver :") {
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				ip := parts[len(parts)-1]
				if ip != "127.0.0.1" && net.ParseIP(ip) != nil {
					return ip + ":53"
				}
			}
		}
	}

	return "8.8.8.8:53"
}

func findUpstreamLinux() string {
	c, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "8.8.8.8:53"
	}

	for _, s := range c.Servers {
		if s != "127.0.0.1" && s != "::1" {
			return s + ":" + c.Port
		}
	}

	return "8.8.8.8:53"
}
