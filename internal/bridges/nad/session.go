package nad

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session framing constraints.
const (
	// readChunkSize is the per-read buffer for the receive loop.
	readChunkSize = 1024

	// maxLineBytes bounds the pending-line buffer. Receiver lines are tens
	// of bytes; anything longer means the stream desynchronised, so the
	// buffer is discarded rather than grown without bound.
	maxLineBytes = 4096
)

// SessionConfig carries the settings for a single TCP session.
type SessionConfig struct {
	// Address is the receiver endpoint as host:port.
	Address string

	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-read deadline. A timeout is not an error:
	// a healthy idle receiver sends nothing, so the loop re-arms and
	// keeps reading.
	ReadTimeout time.Duration

	// WriteTimeout bounds each command write.
	WriteTimeout time.Duration
}

// Session is one live TCP connection to the receiver.
//
// A session is single-use: it is created connected by dialSession, delivers
// received lines to its callback until the connection dies, and signals loss
// exactly once via Lost. The supervisor owns the session lifecycle; nothing
// here reconnects.
type Session struct {
	conn net.Conn
	cfg  SessionConfig

	// onLine receives each complete response line, terminator stripped.
	onLine func(string)

	// Loss signalling (fires at most once, never after Close)
	lost     chan struct{}
	lostOnce sync.Once
	closed   atomic.Bool

	// writeMu serialises command writes so concurrent senders cannot
	// interleave bytes within each other's lines.
	writeMu sync.Mutex

	wg        sync.WaitGroup
	closeOnce sync.Once

	// Statistics (atomic for lock-free reads)
	linesRx atomic.Uint64
	bytesTx atomic.Uint64
}

// dialSession establishes a TCP connection and starts the receive loop.
//
// Parameters:
//   - ctx: Cancels the dial (the session itself outlives ctx)
//   - cfg: Session settings; Address must be non-empty
//   - onLine: Callback for each received line; must be non-nil
//
// Returns:
//   - *Session: Connected session with receive loop running
//   - error: ErrConnectionFailed wrapping the dial error
func dialSession(ctx context.Context, cfg SessionConfig, onLine func(string)) (*Session, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Address, err)
	}

	s := &Session{
		conn:   conn,
		cfg:    cfg,
		onLine: onLine,
		lost:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// Send writes a previously encoded command to the receiver.
//
// The whole byte sequence is written under the write mutex with a write
// deadline; short writes are retried until complete. Any write error marks
// the session lost.
func (s *Session) Send(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.markLost()
			return fmt.Errorf("%w: set write deadline: %w", ErrSendFailed, err)
		}
	}

	for written := 0; written < len(data); {
		n, err := s.conn.Write(data[written:])
		written += n
		if err != nil {
			s.markLost()
			return fmt.Errorf("%w: wrote %d of %d bytes: %w",
				ErrSendFailed, written, len(data), err)
		}
	}

	s.bytesTx.Add(uint64(len(data)))
	return nil
}

// Lost returns a channel closed when the connection dies for any reason
// other than an explicit Close. It fires at most once per session.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Close tears down the session and waits for the receive loop to exit.
// Safe to call multiple times; a closed session never signals Lost.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.conn.Close()
		s.wg.Wait()
	})
	return nil
}

// LinesReceived returns the number of complete lines delivered so far.
func (s *Session) LinesReceived() uint64 {
	return s.linesRx.Load()
}

// BytesSent returns the number of command bytes written so far.
func (s *Session) BytesSent() uint64 {
	return s.bytesTx.Load()
}

// markLost signals connection loss exactly once. Suppressed after Close so
// owner-initiated teardown is not reported as a failure.
func (s *Session) markLost() {
	if s.closed.Load() {
		return
	}
	s.lostOnce.Do(func() {
		close(s.lost)
	})
}

// readLoop reads the socket, reassembles newline-terminated lines, and
// delivers them to the callback. Runs until the connection dies or Close
// is called; the connection is closed on every exit path.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.conn.Close()
	defer s.markLost()

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		if s.cfg.ReadTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return
			}
		}

		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.deliverLines(buf)

			if len(buf) > maxLineBytes {
				// Desynchronised stream: drop the partial data and resume
				// at the next terminator.
				buf = buf[:0]
			}
		}

		if err != nil {
			if s.closed.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle connection; nothing to read is fine.
				continue
			}
			return
		}
	}
}

// deliverLines splits off complete lines, delivers each non-empty one, and
// returns the remaining partial data.
func (s *Session) deliverLines(buf []byte) []byte {
	for {
		idx := -1
		for i, b := range buf {
			if b == '\n' || b == '\r' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return buf
		}

		line := strings.TrimSpace(string(buf[:idx]))
		buf = buf[idx+1:]

		if line == "" {
			continue
		}
		s.linesRx.Add(1)
		s.onLine(line)
	}
}
