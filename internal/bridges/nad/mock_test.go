package nad

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockReceiver simulates a NAD receiver for testing.
//
// It accepts connections repeatedly (so reconnection can be exercised),
// records every CR-terminated command line it receives, and can push
// response lines to the most recent connection.
type mockReceiver struct {
	listener net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	received []string

	done      chan struct{}
	closeOnce sync.Once
}

// newMockReceiver creates a mock receiver listening on a loopback port.
func newMockReceiver(t *testing.T) *mockReceiver {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	r := &mockReceiver{
		listener: listener,
		done:     make(chan struct{}),
	}

	go r.acceptLoop()
	return r
}

func (r *mockReceiver) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}

		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()

		go r.readLoop(conn)
	}
}

func (r *mockReceiver) readLoop(conn net.Conn) {
	buf := make([]byte, 256)
	var pending string
	for {
		select {
		case <-r.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			for {
				idx := strings.IndexAny(pending, "\r\n")
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				if line == "" {
					continue
				}
				r.mu.Lock()
				r.received = append(r.received, line)
				r.mu.Unlock()
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
	}
}

// Address returns the listener address as host:port.
func (r *mockReceiver) Address() string {
	return r.listener.Addr().String()
}

// ConnCount returns the number of connections accepted so far.
func (r *mockReceiver) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ReceivedLines returns a copy of every command line received so far.
func (r *mockReceiver) ReceivedLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.received))
	copy(lines, r.received)
	return lines
}

// CountReceived returns how many received lines equal the given command.
func (r *mockReceiver) CountReceived(line string) int {
	count := 0
	for _, got := range r.ReceivedLines() {
		if got == line {
			count++
		}
	}
	return count
}

// WaitForLine waits until the given command line has been received.
func (r *mockReceiver) WaitForLine(t *testing.T, line string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.CountReceived(line) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for line %q; received %v", line, r.ReceivedLines())
}

// WaitForConns waits until at least n connections have been accepted.
func (r *mockReceiver) WaitForConns(t *testing.T, n int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.ConnCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections, have %d", n, r.ConnCount())
}

// SendLine writes a newline-terminated response to the latest connection.
func (r *mockReceiver) SendLine(t *testing.T, line string) {
	t.Helper()

	r.mu.Lock()
	var conn net.Conn
	if len(r.conns) > 0 {
		conn = r.conns[len(r.conns)-1]
	}
	r.mu.Unlock()

	if conn == nil {
		t.Fatal("No connection to send response")
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to send response: %v", err)
	}
}

// SendRaw writes arbitrary bytes to the latest connection.
func (r *mockReceiver) SendRaw(t *testing.T, data []byte) {
	t.Helper()

	r.mu.Lock()
	var conn net.Conn
	if len(r.conns) > 0 {
		conn = r.conns[len(r.conns)-1]
	}
	r.mu.Unlock()

	if conn == nil {
		t.Fatal("No connection to send data")
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to send data: %v", err)
	}
}

// DropConn closes the latest connection, simulating a session loss.
func (r *mockReceiver) DropConn(t *testing.T) {
	t.Helper()

	r.mu.Lock()
	var conn net.Conn
	if len(r.conns) > 0 {
		conn = r.conns[len(r.conns)-1]
	}
	r.mu.Unlock()

	if conn == nil {
		t.Fatal("No connection to drop")
	}
	conn.Close()
}

// Close shuts the mock receiver down.
func (r *mockReceiver) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.listener.Close()
		r.mu.Lock()
		for _, conn := range r.conns {
			conn.Close()
		}
		r.mu.Unlock()
	})
}
