// Package bufutil layers small reader utilities on top of *bufio.Reader
// that the protocol handlers need: reading up to a delimiter without
// over-consuming the stream, and peeking/consuming a single byte. The
// single-byte helpers block until a byte arrives or the stream ends.
package bufutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// ReadUntil reads from r until pattern is found, returning everything
// read including the pattern itself. It grows its scan window as needed
// across multiple fills of r's internal buffer, so a pattern split
// across two reads is still found correctly. maxLen bounds how much can
// be buffered before giving up, to keep a misbehaving peer from
// exhausting memory with an unterminated line.
func ReadUntil(r *bufio.Reader, pattern []byte, maxLen int) ([]byte, error) {
	if len(pattern) == 0 {
		return nil, fmt.Errorf("bufutil: empty pattern")
	}

	buf := make([]byte, 0, 64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("bufutil: eof before pattern found")
			}
			return nil, fmt.Errorf("bufutil: read fail: %w", err)
		}
		buf = append(buf, b)

		if len(buf) >= len(pattern) && bytes.HasSuffix(buf, pattern) {
			return buf, nil
		}
		if len(buf) >= maxLen {
			return nil, fmt.Errorf("bufutil: pattern not found within %d bytes", maxLen)
		}
	}
}

// TryReadByte consumes and returns one byte. It is equivalent to
// r.ReadByte (blocking until a byte arrives, with io.EOF wrapped in the
// returned error) but named for symmetry with TryPeekByte at call sites
// that want to make the "pull one byte" step explicit.
func TryReadByte(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("bufutil: read byte: %w", err)
	}
	return b, nil
}

// TryPeekByte returns the next byte without consuming it. Used by the
// demultiplexer to classify the protocol (SOCKS5 vs. HTTP) from the
// first byte alone before any handler has claimed the connection.
func TryPeekByte(r *bufio.Reader) (byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return 0, fmt.Errorf("bufutil: peek byte: %w", err)
	}
	return b[0], nil
}

// DrainBuffered writes whatever r has already buffered but not yet
// handed to a caller to dst, then discards it from r. A handshake
// parser that reads through r with io.ReadFull or http.ReadRequest can
// leave trailing bytes sitting in r's fill buffer (the client's first
// payload chunk arriving in the same TCP segment as the handshake, for
// instance); those bytes must reach dst before r is handed off to a
// plain byte-relay, or they're silently lost. Safe to call even when
// nothing is buffered.
func DrainBuffered(r *bufio.Reader, dst io.Writer) error {
	n := r.Buffered()
	if n == 0 {
		return nil
	}
	buf, err := r.Peek(n)
	if err != nil {
		return fmt.Errorf("bufutil: peek buffered: %w", err)
	}
	if _, err := dst.Write(buf); err != nil {
		return fmt.Errorf("bufutil: write buffered: %w", err)
	}
	if _, err := r.Discard(n); err != nil {
		return fmt.Errorf("bufutil: discard buffered: %w", err)
	}
	return nil
}
