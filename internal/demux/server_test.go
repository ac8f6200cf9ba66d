package demux

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/logscore/pmux/internal/addr"
)

// failConnector always refuses to dial, so handlers fail fast without
// needing a real upstream -- enough to observe which handler the
// first-byte peek routed to.
type failConnector struct{}

func (failConnector) Connect(ctx context.Context, target addr.Address) (net.Conn, error) {
	return nil, errors.New("refused")
}

func startTestServer(t *testing.T) (addrStr string, stop func()) {
	t.Helper()
	srv := &Server{Addr: "127.0.0.1:0", Connector: failConnector{}}
	if err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	return srv.ListenAddr().String(), cancel
}

func TestDemuxRoutesSOCKS5(t *testing.T) {
	addrStr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addrStr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := []byte{0x05, 1, 0x00} // method negotiation, no-auth offered
	req = append(req, 0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xbb)
	conn.Write(req)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 2)
	if _, err := conn.Read(reply); err != nil {
		t.Fatalf("read method reply: %v", err)
	}
	if reply[0] != 0x05 {
		t.Fatalf("method reply version = %#x, want 0x05 (SOCKS5 handler)", reply[0])
	}
}

func TestDemuxRoutesHTTP(t *testing.T) {
	addrStr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addrStr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	got := string(buf[:n])
	want := "HTTP/1.1 502"
	if len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("response = %q, want prefix %q (HTTP handler)", got, want)
	}
}
