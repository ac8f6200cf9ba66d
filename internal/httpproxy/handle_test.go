package httpproxy

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/logscore/pmux/internal/addr"
)

// dialConnector ignores the requested target and always dials a fixed
// local address, letting tests stand in a real upstream without
// needing a working resolver.
type dialConnector struct {
	addr string
}

func (d *dialConnector) Connect(ctx context.Context, target addr.Address) (net.Conn, error) {
	return net.Dial("tcp", d.addr)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeAddr: %v", err)
	}
	a := ln.Addr().String()
	ln.Close()
	return a
}

// captureServer accepts one connection and reports everything it read
// before the connection closed.
func captureServer(t *testing.T, addr string, got chan<- string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("captureServer listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		got <- string(buf[:n])
	}()
	return ln
}

func TestHandleConnectTunnel(t *testing.T) {
	upstreamAddr := freeAddr(t)
	captured := make(chan string, 1)
	ln := captureServer(t, upstreamAddr, captured)
	defer ln.Close()

	client, server := net.Pipe()
	defer client.Close()

	reqLine := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	go client.Write([]byte(reqLine))

	replyBuf := make([]byte, len(connectOKResponse))
	replyDone := make(chan struct{})
	go func() {
		client.Read(replyBuf)
		close(replyDone)
	}()

	// Once the tunnel is established, send a payload through it so the
	// upstream capture server sees it.
	go func() {
		<-replyDone
		client.Write([]byte("tunnel payload"))
	}()

	br := bufio.NewReader(server)
	done := make(chan error, 1)
	go func() {
		done <- Handle(context.Background(), server, br, &dialConnector{addr: upstreamAddr})
	}()

	<-replyDone
	if string(replyBuf) != connectOKResponse {
		t.Errorf("CONNECT reply = %q, want %q", replyBuf, connectOKResponse)
	}

	select {
	case got := <-captured:
		if got != "tunnel payload" {
			t.Errorf("upstream received %q, want %q", got, "tunnel payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received tunnel payload")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned after client closed")
	}
}

func TestHandleForwardRewritesAbsoluteURI(t *testing.T) {
	upstreamAddr := freeAddr(t)
	captured := make(chan string, 1)
	ln := captureServer(t, upstreamAddr, captured)
	defer ln.Close()

	client, server := net.Pipe()
	defer client.Close()

	reqLine := "GET http://example.com/widgets?id=7 HTTP/1.1\r\nHost: example.com\r\n\r\n"
	go client.Write([]byte(reqLine))

	br := bufio.NewReader(server)
	done := make(chan error, 1)
	go func() {
		done <- Handle(context.Background(), server, br, &dialConnector{addr: upstreamAddr})
	}()

	select {
	case got := <-captured:
		want := "GET /widgets?id=7 HTTP/1.1\r\n"
		if len(got) < len(want) || got[:len(want)] != want {
			t.Errorf("forwarded request line = %q, want prefix %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received forwarded request")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned after client closed")
	}
}

// captureAllServer accepts one connection and reports everything it
// read up until a short read-idle timeout, so a test can assert on the
// full forwarded request (request line + headers + any buffered body)
// even when the handler writes it across several Write calls.
func captureAllServer(t *testing.T, addr string, got chan<- string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("captureAllServer listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf []byte
		tmp := make([]byte, 4096)
		for {
			conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
			n, err := conn.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if err != nil {
				break
			}
		}
		got <- string(buf)
	}()
	return ln
}

func TestHandleForwardPreservesHeaderOrderAndBufferedBody(t *testing.T) {
	upstreamAddr := freeAddr(t)
	captured := make(chan string, 1)
	ln := captureAllServer(t, upstreamAddr, captured)
	defer ln.Close()

	client, server := net.Pipe()
	defer client.Close()

	// Headers in an order that alphabetical sorting would disturb
	// (X-Zeta before Accept), plus a short body arriving in the same
	// write as the headers -- both must be replayed verbatim.
	reqLine := "POST http://example.com/submit HTTP/1.1\r\n" +
		"X-Zeta: 1\r\n" +
		"Content-Length: 4\r\n" +
		"Accept: */*\r\n" +
		"\r\n" +
		"body"
	go client.Write([]byte(reqLine))

	br := bufio.NewReader(server)
	done := make(chan error, 1)
	go func() {
		done <- Handle(context.Background(), server, br, &dialConnector{addr: upstreamAddr})
	}()

	select {
	case got := <-captured:
		wantLine := "POST /submit HTTP/1.1\r\n"
		if len(got) < len(wantLine) || got[:len(wantLine)] != wantLine {
			t.Fatalf("forwarded request line = %q, want prefix %q", got, wantLine)
		}
		zetaIdx := indexOf(got, "X-Zeta")
		acceptIdx := indexOf(got, "Accept")
		if zetaIdx < 0 || acceptIdx < 0 || zetaIdx > acceptIdx {
			t.Errorf("headers reordered: X-Zeta at %d, Accept at %d, want X-Zeta first; got %q", zetaIdx, acceptIdx, got)
		}
		if got[len(got)-4:] != "body" {
			t.Errorf("forwarded request missing buffered body, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received forwarded request")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned after client closed")
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestHandleMalformedRequestLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go client.Write([]byte("not a valid http request\r\n\r\n"))

	br := bufio.NewReader(server)
	err := Handle(context.Background(), server, br, &dialConnector{})
	if err == nil {
		t.Fatal("expected error for malformed request line")
	}
}
