// Package addr defines the target-address value used across pmux's
// protocol handlers and connector.
package addr

import (
	"fmt"
	"net"
	"strconv"
)

// Kind distinguishes an address carried as a literal IP from one carried
// as a domain name still awaiting resolution.
type Kind int

const (
	// KindSocket is a concrete IP:port, as parsed from a SOCKS5 IPv4/IPv6
	// ATYP or an HTTP CONNECT literal-IP host.
	KindSocket Kind = iota
	// KindDomain is a hostname that still needs resolving before dialing.
	KindDomain
)

// Address is the tagged union of "already an endpoint" vs. "a name that
// resolves to one", mirroring the two ways a target can arrive over
// SOCKS5 (ATYP domain vs. ATYP IPv4/IPv6) or HTTP CONNECT (a bracketed
// literal vs. a hostname).
type Address struct {
	Kind Kind
	Host string // domain name, set when Kind == KindDomain
	IP   net.IP // literal address, set when Kind == KindSocket
	Port uint16
}

// Domain builds a domain-kind Address.
func Domain(host string, port uint16) Address {
	return Address{Kind: KindDomain, Host: host, Port: port}
}

// Socket builds a socket-kind Address from a literal IP.
func Socket(ip net.IP, port uint16) Address {
	return Address{Kind: KindSocket, IP: ip, Port: port}
}

// String renders the address the way it would appear in a dial target
// or a log line: "host:port", bracketing IPv6 literals.
func (a Address) String() string {
	switch a.Kind {
	case KindDomain:
		return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
	default:
		return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
	}
}

// DialTarget returns the "host:port" value to hand to
// net.Dialer.DialContext: the host is the domain name for KindDomain (so
// the dialer's own resolver resolves it), or the literal IP for
// KindSocket.
func (a Address) DialTarget() string {
	return a.String()
}

// ParseHostPort splits "host:port" into an Address, recognizing both
// plain and IPv6-bracketed forms ("[::1]:8080"), classifying the host
// as KindSocket when it parses as a literal IP and KindDomain otherwise.
func ParseHostPort(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("parse port in %q: %w", hostport, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		return Socket(ip, uint16(port)), nil
	}
	return Domain(host, uint16(port)), nil
}
