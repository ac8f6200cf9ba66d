// Package httpproxy implements the HTTP side of the demultiplexer: a
// CONNECT tunnel for HTTPS targets, and absolute-URI request forwarding
// for plain HTTP, both ending in internal/relay once a target
// connection exists.
package httpproxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/logscore/pmux/internal/addr"
	"github.com/logscore/pmux/internal/bufutil"
	"github.com/logscore/pmux/internal/connector"
	"github.com/logscore/pmux/internal/perr"
	"github.com/logscore/pmux/internal/relay"
)

const (
	connectOKResponse = "HTTP/1.1 200 Ok\r\n\r\n"

	// maxHeaderBlock bounds how much of the request line + headers
	// bufutil.ReadUntil will buffer before giving up on a malformed or
	// hostile client.
	maxHeaderBlock = 64 * 1024
)

// Handle drives one HTTP connection: reads the request line and headers
// verbatim (so they can be replayed byte-for-byte, not reformatted) and
// either tunnels (CONNECT) or forwards (absolute-URI request) the rest
// of the connection. br must already wrap conn (the demultiplexer's
// peeked byte is still in its buffer).
func Handle(ctx context.Context, conn net.Conn, br *bufio.Reader, conn2 connector.Connector) error {
	raw, err := bufutil.ReadUntil(br, []byte("\r\n\r\n"), maxHeaderBlock)
	if err != nil {
		return perr.InvalidData("", fmt.Sprintf("read HTTP request: %v", err))
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return perr.InvalidData("", fmt.Sprintf("parse HTTP request: %v", err))
	}

	if req.Method == http.MethodConnect {
		return handleConnect(ctx, conn, br, req, conn2)
	}
	return handleForward(ctx, conn, br, raw, req, conn2)
}

func handleConnect(ctx context.Context, conn net.Conn, br *bufio.Reader, req *http.Request, conn2 connector.Connector) error {
	target, err := hostAddress(req.Host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return err
	}

	remote, err := conn2.Connect(ctx, target)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return err
	}
	defer remote.Close()

	if _, err := conn.Write([]byte(connectOKResponse)); err != nil {
		return perr.IOErr(target.String(), "write CONNECT reply", err)
	}

	// Anything the client already pushed past the CONNECT request's
	// header block (pipelined bytes landing in the same segment br filled on) is
	// still sitting in br and must reach remote before the relay takes
	// the raw conn over.
	if err := bufutil.DrainBuffered(br, remote); err != nil {
		return perr.IOErr(target.String(), "drain buffered client bytes", err)
	}

	_, err = relay.Copy(conn, remote, "local", fmt.Sprintf("remote(%s)", target))
	return err
}

// handleForward rewrites only the absolute-URI request line into
// origin-form; the header block that follows it (raw, exactly as the
// client sent it -- order, casing, folding) is forwarded untouched, and
// body bytes are carried through rather than re-serialized: those
// already buffered in br by bufutil.DrainBuffered, later ones by
// relay.Copy.
func handleForward(ctx context.Context, conn net.Conn, br *bufio.Reader, raw []byte, req *http.Request, conn2 connector.Connector) error {
	if req.URL == nil || req.URL.Host == "" {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return perr.InvalidData("", "forward request missing absolute-URI host")
	}

	host := req.URL.Host
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, "80")
	}
	target, err := addr.ParseHostPort(host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return perr.InvalidData("", fmt.Sprintf("parse forward target: %v", err))
	}

	remote, err := conn2.Connect(ctx, target)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return err
	}
	defer remote.Close()

	if err := writeOriginFormRequest(remote, req, raw); err != nil {
		return perr.IOErr(target.String(), "forward request to upstream", err)
	}

	// Body bytes already buffered by br (a short body landing in the
	// same read as the headers) must reach remote before the relay
	// takes the raw conn over; anything longer flows through the relay
	// itself.
	if err := bufutil.DrainBuffered(br, remote); err != nil {
		return perr.IOErr(target.String(), "drain buffered client bytes", err)
	}

	_, err = relay.Copy(conn, remote, "local", fmt.Sprintf("remote(%s)", target))
	return err
}

// writeOriginFormRequest writes the rewritten request line followed by
// the header block exactly as received: raw is the full request-line +
// headers + trailing blank line bufutil.ReadUntil captured, and only
// its first line is replaced.
func writeOriginFormRequest(dst net.Conn, req *http.Request, raw []byte) error {
	requestLine := fmt.Sprintf("%s %s HTTP/1.1\r\n", req.Method, originForm(req))
	if _, err := dst.Write([]byte(requestLine)); err != nil {
		return err
	}

	_, headerBlock, ok := bytes.Cut(raw, []byte("\r\n"))
	if !ok {
		return fmt.Errorf("httpproxy: malformed request block")
	}

	// Absolute-URI requests may omit Host, relying on the request-URI's
	// own authority; origin-form requires it, so add it without
	// disturbing any header the client did send. http.ReadRequest drops
	// Host from req.Header, so look for it in the raw header block.
	hasHost := false
	for _, line := range bytes.Split(headerBlock, []byte("\r\n")) {
		if len(line) >= 5 && bytes.EqualFold(line[:5], []byte("host:")) {
			hasHost = true
			break
		}
	}
	if !hasHost {
		if _, err := dst.Write([]byte("Host: " + req.Host + "\r\n")); err != nil {
			return err
		}
	}

	_, err := dst.Write(headerBlock)
	return err
}

func originForm(req *http.Request) string {
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	if req.URL.RawQuery != "" {
		return path + "?" + req.URL.RawQuery
	}
	return path
}

func hostAddress(hostport string) (addr.Address, error) {
	if !strings.Contains(hostport, ":") {
		hostport = net.JoinHostPort(hostport, "443")
	}
	target, err := addr.ParseHostPort(hostport)
	if err != nil {
		return addr.Address{}, perr.InvalidData("", fmt.Sprintf("parse CONNECT target: %v", err))
	}
	return target, nil
}
