// Package socks5 implements the server side of a no-auth,
// CONNECT-only SOCKS5 handshake (RFC 1928), handing off the established
// tunnel to internal/relay once the target is dialed.
package socks5

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/logscore/pmux/internal/addr"
	"github.com/logscore/pmux/internal/bufutil"
	"github.com/logscore/pmux/internal/connector"
	"github.com/logscore/pmux/internal/perr"
	"github.com/logscore/pmux/internal/relay"
)

const (
	version5 = 0x05

	methodNoAuth       = 0x00
	methodNoAcceptable = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySucceeded           = 0x00
	replyGeneralFailure      = 0x01
	replyHostUnreachable     = 0x04
	replyCommandNotSupported = 0x07
)

// Handle drives one SOCKS5 connection: method negotiation, CONNECT
// request parsing, dial, reply, then relay. br still holds the version
// byte the demultiplexer peeked to classify the connection as SOCKS5 --
// callers must pass a *bufio.Reader wrapping conn, not a fresh one, so
// nothing is dropped.
func Handle(ctx context.Context, conn net.Conn, br *bufio.Reader, conn2 connector.Connector) error {
	if err := negotiateMethod(conn, br); err != nil {
		return err
	}

	target, err := readRequest(br)
	if err != nil {
		if pe, ok := asProxyError(err); ok && pe.Kind == perr.KindProtocolFail {
			writeReply(conn, replyCommandNotSupported)
		} else {
			writeReply(conn, replyGeneralFailure)
		}
		return err
	}

	remote, err := conn2.Connect(ctx, target)
	if err != nil {
		writeReply(conn, replyGeneralFailure)
		return err
	}
	defer remote.Close()

	if err := writeReply(conn, replySucceeded); err != nil {
		return err
	}

	// The client may have already pushed payload bytes past the CONNECT
	// request in the same segment br filled on; those are sitting in br
	// now and must reach remote before the raw-conn relay takes over.
	if err := bufutil.DrainBuffered(br, remote); err != nil {
		return perr.IOErr(target.String(), "drain buffered client bytes", err)
	}

	_, err = relay.Copy(conn, remote, "local", fmt.Sprintf("remote(%s)", target))
	return err
}

func negotiateMethod(conn net.Conn, br *bufio.Reader) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return perr.InvalidData("", "read method negotiation header")
	}
	if header[0] != version5 {
		return perr.InvalidData("", fmt.Sprintf("unsupported SOCKS version %d", header[0]))
	}

	nMethods := int(header[1])
	methods := make([]byte, nMethods)
	if _, err := io.ReadFull(br, methods); err != nil {
		return perr.InvalidData("", "read method list")
	}

	supportsNoAuth := false
	for _, m := range methods {
		if m == methodNoAuth {
			supportsNoAuth = true
			break
		}
	}

	if !supportsNoAuth {
		conn.Write([]byte{version5, methodNoAcceptable})
		return perr.ProtocolFail("", "client offered no acceptable auth method")
	}

	_, err := conn.Write([]byte{version5, methodNoAuth})
	return err
}

func readRequest(br *bufio.Reader) (addr.Address, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(br, header); err != nil {
		return addr.Address{}, perr.InvalidData("", "read request header")
	}
	if header[0] != version5 {
		return addr.Address{}, perr.InvalidData("", fmt.Sprintf("unsupported SOCKS version %d", header[0]))
	}
	if header[1] != cmdConnect {
		return addr.Address{}, perr.ProtocolFail("", fmt.Sprintf("unsupported command %d", header[1]))
	}

	var target addr.Address
	switch header[3] {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			return addr.Address{}, perr.InvalidData("", "read IPv4 address")
		}
		target = addr.Address{Kind: addr.KindSocket, IP: net.IP(buf)}
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(br, buf); err != nil {
			return addr.Address{}, perr.InvalidData("", "read IPv6 address")
		}
		target = addr.Address{Kind: addr.KindSocket, IP: net.IP(buf)}
	case atypDomain:
		domainLen, err := bufutil.TryReadByte(br)
		if err != nil {
			return addr.Address{}, perr.InvalidData("", "read domain length")
		}
		domain := make([]byte, domainLen)
		if _, err := io.ReadFull(br, domain); err != nil {
			return addr.Address{}, perr.InvalidData("", "read domain name")
		}
		target = addr.Address{Kind: addr.KindDomain, Host: string(domain)}
	default:
		return addr.Address{}, perr.ProtocolFail("", fmt.Sprintf("unsupported address type %d", header[3]))
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(br, portBuf); err != nil {
		return addr.Address{}, perr.InvalidData("", "read port")
	}
	target.Port = binary.BigEndian.Uint16(portBuf)

	return target, nil
}

// writeReply writes a SOCKS5 reply with a fixed IPv4 0.0.0.0:0 bound
// address, which is all pmux ever reports back regardless of the
// dialed connection's actual local address.
func writeReply(conn net.Conn, status byte) error {
	reply := []byte{version5, status, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}

func asProxyError(err error) (*perr.ProxyError, bool) {
	pe, ok := err.(*perr.ProxyError)
	return pe, ok
}
