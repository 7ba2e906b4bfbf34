package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// MaxLineLength bounds the bytes buffered while waiting for a line terminator.
// Longer runs are discarded.
const MaxLineLength = 512

var (
	// ErrReadTimeout is returned by ReadLine when no complete line arrived in time.
	ErrReadTimeout = errors.New("link: read timeout")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("link: transport closed")
	// ErrLineTooLong is returned when MaxLineLength bytes arrived without a terminator.
	ErrLineTooLong = errors.New("link: line too long")
)

// Port is a duplex byte stream with a settable read timeout.
//
// Read must return (0, nil) when the timeout expires without data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Transport is the line-oriented view of a Port used by the session engine.
//
// ReadLine is not safe for concurrent use; Write and Close may be called
// concurrently with ReadLine.
type Transport interface {
	// ReadLine returns the next line without its terminator, waiting at most timeout.
	ReadLine(timeout time.Duration) (string, error)
	// Write sends p to the device.
	Write(p []byte) (int, error)
	// Buffered returns the number of received bytes not yet returned by ReadLine.
	Buffered() int
	// IsOpen reports whether the transport can still be used.
	IsOpen() bool
	// Close closes the underlying port. It is safe to call more than once.
	Close() error
}

type lineTransport struct {
	port Port
	name string

	buf     []byte
	pending []byte
	pendLen atomic.Int64

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*lineTransport)(nil)

// NewTransport wraps an open port in a line transport. name is used in error messages.
func NewTransport(name string, port Port) Transport {
	return &lineTransport{
		port: port,
		name: name,
		buf:  make([]byte, 128),
	}
}

func (t *lineTransport) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		if t.closed.Load() {
			return "", ErrClosed
		}

		if i := bytes.IndexByte(t.pending, '\n'); i >= 0 {
			line := bytes.TrimRight(t.pending[:i], "\r")
			s := string(line)
			t.consume(i + 1)

			return s, nil
		}

		if len(t.pending) >= MaxLineLength {
			t.consume(len(t.pending))
			return "", ErrLineTooLong
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}

		if err := t.port.SetReadTimeout(remaining); err != nil {
			return "", t.wrapErr("set read timeout", err)
		}

		n, err := t.port.Read(t.buf)
		if n > 0 {
			t.pending = append(t.pending, t.buf[:n]...)
			t.pendLen.Store(int64(len(t.pending)))
		}
		if err != nil {
			return "", t.wrapErr("read", err)
		}
	}
}

func (t *lineTransport) consume(n int) {
	rest := copy(t.pending, t.pending[n:])
	t.pending = t.pending[:rest]
	t.pendLen.Store(int64(rest))
}

func (t *lineTransport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.port.Write(p)
	if err != nil {
		return n, t.wrapErr("write", err)
	}

	return n, nil
}

func (t *lineTransport) Buffered() int {
	return int(t.pendLen.Load())
}

func (t *lineTransport) IsOpen() bool {
	return !t.closed.Load()
}

func (t *lineTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if err := t.port.Close(); err != nil {
			t.closeErr = fmt.Errorf("link: close %s: %w", t.name, err)
		}
	})

	return t.closeErr
}

func (t *lineTransport) wrapErr(op string, err error) error {
	if t.closed.Load() || isClosedErr(err) {
		return fmt.Errorf("%w: %s %s: %w", ErrClosed, op, t.name, err)
	}

	return fmt.Errorf("link: %s %s: %w", op, t.name, err)
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}
