package sim

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

// Defaults of a new Device.
const (
	DefaultVersion             = "sim-1.0"
	DefaultModeRegister        = 3
	DefaultTelemetryInterval   = 5 * time.Millisecond
	DefaultCountsPerRevolution = 8192

	lineTerminator = "\r\n"
	outboxSize     = 256
)

// Device is an emulated controller. A Device can serve several connections
// over its lifetime; they share the counter state.
type Device struct {
	mu            sync.Mutex
	index         int64
	count         int64
	modeRegister  int64
	programValue  int64
	statusReg     int64
	debug         bool
	streaming     bool
	silent        bool
	velocity      int64
	pendingErrors int
	history       []codec.Command

	version  string
	interval time.Duration
	cpr      int64
	logger   logger.Logger
}

// Option configures a Device.
type Option func(*Device)

// WithVersion sets the reported firmware version.
func WithVersion(v string) Option {
	return func(d *Device) { d.version = v }
}

// WithTelemetryInterval sets the telemetry period.
func WithTelemetryInterval(interval time.Duration) Option {
	return func(d *Device) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithModeRegister sets the MDR0 value written by the program command.
func WithModeRegister(v int64) Option {
	return func(d *Device) { d.programValue = v }
}

// WithCountsPerRevolution sets the counts between two index pulses.
func WithCountsPerRevolution(cpr int64) Option {
	return func(d *Device) {
		if cpr > 0 {
			d.cpr = cpr
		}
	}
}

// WithVelocity sets the counts added on every telemetry tick.
func WithVelocity(counts int64) Option {
	return func(d *Device) { d.velocity = counts }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// New creates a Device.
func New(opts ...Option) *Device {
	d := &Device{
		programValue: DefaultModeRegister,
		version:      DefaultVersion,
		interval:     DefaultTelemetryInterval,
		cpr:          DefaultCountsPerRevolution,
		logger:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Move turns the shaft by delta counts.
func (d *Device) Move(delta int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.advance(delta)
}

// SetVelocity sets the counts added on every telemetry tick.
func (d *Device) SetVelocity(counts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.velocity = counts
}

// InjectErrors makes the next n telemetry ticks send ERROR instead.
func (d *Device) InjectErrors(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pendingErrors += n
}

// SetSilent stops all output, including command responses, while enabled.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.silent = silent
}

// Position returns the index and count registers.
func (d *Device) Position() (index, count int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.index, d.count
}

// Streaming reports whether telemetry is being sent.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.streaming
}

// Commands returns the commands received so far.
func (d *Device) Commands() []codec.Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]codec.Command(nil), d.history...)
}

// Open connects a new link.Transport to the device over an in-memory pipe.
// Its signature matches encoder.Opener; port and baudRate are only logged.
func (d *Device) Open(port string, baudRate int) (link.Transport, error) {
	host, dev := net.Pipe()
	d.logger.Debug("sim connection opened", "port", port, "baud", baudRate)

	go func() {
		if err := d.Serve(context.Background(), dev); err != nil {
			d.logger.Debug("sim connection ended", "port", port, "error", err)
		}
	}()

	return link.NewTransport(port, link.NewConnPort(host)), nil
}

// ServeListener accepts connections on ln and serves each of them until ctx
// is done or ln fails.
func (d *Device) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
		d.logger.Info("sim client connected", "remote", conn.RemoteAddr().String())

		go func() {
			if err := d.Serve(ctx, conn); err != nil {
				d.logger.Debug("sim client disconnected", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Serve runs the firmware loop on rw until ctx is done or rw fails.
// rw is closed on return.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriteCloser) error {
	outbox := make(chan string, outboxSize)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.readLoop(rw, outbox) })
	g.Go(func() error { return d.writeLoop(ctx, rw, outbox) })
	g.Go(func() error {
		d.tickLoop(ctx, outbox)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return rw.Close()
	})

	err := g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (d *Device) readLoop(r io.Reader, outbox chan<- string) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == '\r' || b == '\n' {
				continue
			}
			for _, line := range d.Handle(codec.Command(b)) {
				enqueue(outbox, line)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (d *Device) writeLoop(ctx context.Context, w io.Writer, outbox <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-outbox:
			if _, err := io.WriteString(w, line+lineTerminator); err != nil {
				return err
			}
		}
	}
}

func (d *Device) tickLoop(ctx context.Context, outbox chan<- string) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if line, ok := d.tick(); ok {
				enqueue(outbox, line)
			}
		}
	}
}

// enqueue drops the line when the host does not keep up, like a UART
// transmit buffer overrun.
func enqueue(outbox chan<- string, line string) {
	select {
	case outbox <- line:
	default:
	}
}

func (d *Device) tick() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.silent || !d.streaming {
		return "", false
	}
	if d.pendingErrors > 0 {
		d.pendingErrors--
		return codec.ErrorMarker, true
	}
	d.advance(d.velocity)

	return codec.FormatTelemetry(d.index, d.count), true
}

// Handle applies one command and returns the response lines.
func (d *Device) Handle(cmd codec.Command) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, cmd)
	if d.silent {
		return nil
	}

	switch cmd {
	case codec.DebugOff:
		d.debug = false
		return []string{"DEBUG " + codec.DebugOffMark}
	case codec.DebugOn:
		d.debug = true
		return []string{"DEBUG " + codec.DebugOnMark}
	case codec.ResetChip:
		d.index, d.count = 0, 0
		d.modeRegister, d.statusReg = 0, 0
		d.streaming = false
		return nil
	case codec.ReadModeRegister:
		return []string{codec.FormatRegister(codec.ModeRegTag, d.modeRegister)}
	case codec.ReadStatusRegister:
		return []string{codec.FormatRegister(codec.StatusRegTag, d.statusReg)}
	case codec.ProgramModeRegister:
		d.modeRegister = d.programValue
		return []string{codec.FormatRegister(codec.ModeRegTag, d.modeRegister)}
	case codec.ClearCounter:
		d.count = 0
		d.streaming = true
		return []string{codec.FormatTelemetry(d.index, d.count)}
	case codec.ReadCounter:
		return []string{codec.FormatTelemetry(d.index, d.count)}
	case codec.ReadVersion:
		return []string{codec.VersionTag + ":" + d.version}
	default:
		return []string{codec.ErrorMarker}
	}
}

// advance moves the counter and counts crossed index pulses.
func (d *Device) advance(delta int64) {
	before := floorDiv(d.count, d.cpr)
	d.count += delta
	after := floorDiv(d.count, d.cpr)

	crossed := after - before
	if crossed < 0 {
		crossed = -crossed
	}
	d.index += crossed
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
