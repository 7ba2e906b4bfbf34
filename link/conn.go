package link

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// ConnPort adapts a net.Conn to the Port contract using read deadlines.
type ConnPort struct {
	conn    net.Conn
	timeout atomic.Int64
}

var _ Port = (*ConnPort)(nil)

// NewConnPort wraps conn. Until SetReadTimeout is called reads block without deadline.
func NewConnPort(conn net.Conn) *ConnPort {
	return &ConnPort{conn: conn}
}

func (p *ConnPort) SetReadTimeout(t time.Duration) error {
	p.timeout.Store(int64(t))
	return nil
}

// Read reads from the connection, returning (0, nil) when the read timeout expires.
func (p *ConnPort) Read(b []byte) (int, error) {
	var deadline time.Time
	if t := time.Duration(p.timeout.Load()); t > 0 {
		deadline = time.Now().Add(t)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := p.conn.Read(b)
	if err != nil && isTimeout(err) {
		return n, nil
	}

	return n, err
}

func (p *ConnPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *ConnPort) Close() error {
	return p.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
