package encoder

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/internal/pool"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

// standardResponses are the controller answers to each command.
var standardResponses = map[codec.Command][]string{
	codec.DebugOff:            {"DEBUG OFF"},
	codec.DebugOn:             {"DEBUG ON"},
	codec.ReadModeRegister:    {"MDR0:3"},
	codec.ReadStatusRegister:  {"STR:0"},
	codec.ProgramModeRegister: {"MDR0:3"},
	codec.ClearCounter:        {";Index:0;Count:0"},
	codec.ReadCounter:         {";Index:0;Count:0"},
	codec.ReadVersion:         {"VERSION:1.2.0"},
}

// handshakeOrder is the command sequence of a handshake with debug off.
var handshakeOrder = []codec.Command{
	codec.DebugOff,
	codec.ReadModeRegister,
	codec.ReadStatusRegister,
	codec.ProgramModeRegister,
	codec.ClearCounter,
	codec.ReadVersion,
}

// fakeTransport is a scripted link.Transport. Lines pushed into it, or
// produced by onWrite for each written command, are returned by ReadLine.
type fakeTransport struct {
	mu      sync.Mutex
	written []codec.Command
	onWrite func(cmd codec.Command) []string

	lines     chan string
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	// block makes ReadLine ignore its timeout and wait for Close.
	block atomic.Bool

	reads atomic.Int64
}

func newFakeTransport(onWrite func(cmd codec.Command) []string) *fakeTransport {
	return &fakeTransport{
		onWrite: onWrite,
		lines:   make(chan string, 1024),
		closeCh: make(chan struct{}),
	}
}

// newBlockingTransport returns a transport whose reads hang until Close.
func newBlockingTransport() *fakeTransport {
	ft := newFakeTransport(nil)
	ft.block.Store(true)

	return ft
}

func (ft *fakeTransport) ReadLine(timeout time.Duration) (string, error) {
	ft.reads.Add(1)
	if ft.closed.Load() {
		return "", link.ErrClosed
	}

	if ft.block.Load() {
		<-ft.closeCh
		return "", link.ErrClosed
	}

	t := pool.GetTimer(timeout)
	defer pool.PutTimer(t)

	select {
	case <-ft.closeCh:
		return "", link.ErrClosed
	case line := <-ft.lines:
		return line, nil
	case <-t.C:
		return "", link.ErrReadTimeout
	}
}

func (ft *fakeTransport) Write(p []byte) (int, error) {
	if ft.closed.Load() {
		return 0, link.ErrClosed
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, b := range p {
		if b == '\r' || b == '\n' {
			continue
		}
		cmd := codec.Command(b)
		ft.written = append(ft.written, cmd)
		if ft.onWrite != nil {
			for _, line := range ft.onWrite(cmd) {
				ft.lines <- line
			}
		}
	}

	return len(p), nil
}

func (ft *fakeTransport) Buffered() int { return len(ft.lines) }

func (ft *fakeTransport) IsOpen() bool { return !ft.closed.Load() }

func (ft *fakeTransport) Close() error {
	ft.closeOnce.Do(func() {
		ft.closed.Store(true)
		close(ft.closeCh)
	})

	return nil
}

func (ft *fakeTransport) push(lines ...string) {
	for _, line := range lines {
		ft.lines <- line
	}
}

func (ft *fakeTransport) commands() []codec.Command {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return append([]codec.Command(nil), ft.written...)
}

// standardDevice answers every command with its standard response.
func standardDevice(cmd codec.Command) []string {
	return standardResponses[cmd]
}

// sequenceDevice answers only while commands arrive in the given order.
// After the sequence completed every command is answered.
func sequenceDevice(order []codec.Command) func(codec.Command) []string {
	next := 0
	broken := false

	return func(cmd codec.Command) []string {
		if broken {
			return nil
		}
		if next >= len(order) {
			return standardResponses[cmd]
		}
		if order[next] != cmd {
			broken = true
			return nil
		}
		next++

		return standardResponses[cmd]
	}
}

// overrideDevice answers with overrides where present and standard responses otherwise.
func overrideDevice(overrides map[codec.Command][]string) func(codec.Command) []string {
	return func(cmd codec.Command) []string {
		if resp, ok := overrides[cmd]; ok {
			return resp
		}

		return standardResponses[cmd]
	}
}

// pipeDevice is a scripted controller on the far end of a net.Pipe. The host
// side is a real line transport.
type pipeDevice struct {
	conn    net.Conn
	out     chan string
	stop    chan struct{}
	respond func(cmd codec.Command) []string
	// trailer holds raw bytes written after the response to a command,
	// without line terminator.
	trailer map[codec.Command]string
}

func newPipeDevice(t *testing.T, respond func(cmd codec.Command) []string) (link.Transport, *pipeDevice) {
	t.Helper()

	host, dev := net.Pipe()
	d := &pipeDevice{
		conn:    dev,
		out:     make(chan string, 64),
		stop:    make(chan struct{}),
		respond: respond,
		trailer: map[codec.Command]string{},
	}
	t.Cleanup(func() {
		close(d.stop)
		_ = host.Close()
		_ = dev.Close()
	})

	go d.writeLoop()
	go d.readLoop()

	return link.NewTransport("pipe", link.NewConnPort(host)), d
}

// send writes raw bytes from the device.
func (d *pipeDevice) send(raw string) {
	select {
	case d.out <- raw:
	case <-d.stop:
	}
}

func (d *pipeDevice) writeLoop() {
	for {
		select {
		case <-d.stop:
			return
		case raw := <-d.out:
			if _, err := io.WriteString(d.conn, raw); err != nil {
				return
			}
		}
	}
}

func (d *pipeDevice) readLoop() {
	buf := make([]byte, 16)
	for {
		n, err := d.conn.Read(buf)
		for _, b := range buf[:n] {
			if b == '\r' || b == '\n' {
				continue
			}
			cmd := codec.Command(b)
			for _, line := range d.respond(cmd) {
				d.send(line + "\r\n")
			}
			if raw, ok := d.trailer[cmd]; ok {
				d.send(raw)
			}
		}
		if err != nil {
			return
		}
	}
}

// panicTransport panics on ReadLine once armed.
type panicTransport struct {
	link.Transport
	armed atomic.Bool
}

func (p *panicTransport) ReadLine(timeout time.Duration) (string, error) {
	if p.armed.Load() {
		panic("serial driver fault")
	}

	return p.Transport.ReadLine(timeout)
}

func quietLogger() logger.Logger {
	return logger.NewSlogWithWriter(io.Discard, logger.JSONFormat, logger.DebugLevel, false)
}

// newTestConfig creates a Config with short timings suitable for tests.
func newTestConfig(t *testing.T, tr link.Transport, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithTimeout(10 * time.Millisecond),
		WithResponseAttempts(5),
		WithClearAttempts(3),
		WithClearInterval(time.Millisecond),
		WithSettleDelay(0),
		WithClearSettleDelay(0),
		WithDrainTimeout(2 * time.Millisecond),
		WithEmitInterval(2 * time.Millisecond),
		WithJoinTimeout(200 * time.Millisecond),
		WithIOErrorDelay(time.Millisecond),
		WithLogger(quietLogger()),
	}
	if tr != nil {
		defaults = append(defaults, WithOpener(func(string, int) (link.Transport, error) {
			return tr, nil
		}))
	}

	cfg, err := NewConfig("fake0", append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

func newTestController(t *testing.T, tr link.Transport, opts ...Option) *controller {
	t.Helper()

	cfg := newTestConfig(t, tr, opts...)

	return newController(tr, cfg, cfg.logger, &SessionMetrics{})
}
