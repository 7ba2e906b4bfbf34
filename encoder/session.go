package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-qenc/internal/pool"
	"github.com/arloliu/go-qenc/internal/task"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

// Session is a running encoder link: a completed handshake followed by the
// telemetry reader and the reading emitter.
type Session struct {
	id      string
	cfg     *Config
	logger  logger.Logger
	tr      link.Transport
	info    DeviceInfo
	state   AtomicOpState
	metrics SessionMetrics

	cell   *latestLine
	latest atomic.Pointer[Reading]

	subs  *xsync.MapOf[uint64, *subscription]
	subID atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	reader   *task.Loop
	emitter  *task.Loop
	stopping atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	stopOnce sync.Once
	stopErr  error
}

// Start opens the transport, runs the handshake and starts the background loops.
//
// A failed handshake is returned as *HandshakeError and leaves the transport
// closed. ctx bounds the settle delay and the handshake only.
func Start(ctx context.Context, cfg *Config) (*Session, error) {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: cfg.logger.With("port", cfg.port, "session", id),
		cell:   newLatestLine(),
		subs:   xsync.NewMapOf[uint64, *subscription](),
		done:   make(chan struct{}),
	}
	s.latest.Store(&Reading{})
	s.state.ToOpening()

	tr, err := cfg.opener(cfg.port, cfg.baudRate)
	if err != nil {
		s.state.Set(ClosedState)
		return nil, fmt.Errorf("encoder: open %s: %w", cfg.port, err)
	}
	s.tr = tr
	s.logger.Info("port opened", "baud", cfg.baudRate)

	if err := s.initialize(ctx); err != nil {
		if cerr := tr.Close(); cerr != nil {
			s.logger.Warn("close transport failed", "error", cerr)
		}
		s.state.Set(ClosedState)

		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	r := newTelemetryReader(s.ctx, tr, s.cell, cfg, s.logger, &s.metrics)
	s.reader = task.Start("telemetryReader", s.logger, r.loop(s.readerExited))

	e := &readingEmitter{
		cell:    s.cell,
		cfg:     cfg,
		logger:  s.logger,
		metrics: &s.metrics,
		emit:    s.publish,
	}
	s.emitter, err = task.StartInterval("readingEmitter", s.logger, cfg.emitInterval, e.loop())
	if err != nil {
		_ = s.Stop()
		return nil, err
	}

	s.state.ToRunning()
	s.logger.Info("session started")

	return s, nil
}

func (s *Session) initialize(ctx context.Context) error {
	if err := pool.Sleep(ctx, s.cfg.settleDelay); err != nil {
		return err
	}

	info, err := newController(s.tr, s.cfg, s.logger, &s.metrics).handshake(ctx)
	if err != nil {
		return err
	}
	s.info = info

	return nil
}

// Read returns the latest emitted Reading without blocking.
// It returns the zero Reading until the first telemetry line was decoded.
func (s *Session) Read() Reading {
	return *s.latest.Load()
}

// Subscribe returns a channel receiving every emitted Reading and a function
// that ends the subscription and closes the channel. When the consumer lags,
// the oldest buffered Reading is replaced.
func (s *Session) Subscribe() (<-chan Reading, func()) {
	id := s.subID.Add(1)
	sub := &subscription{ch: make(chan Reading, s.cfg.subscriberBuffer)}
	s.subs.Store(id, sub)

	if s.stopping.Load() {
		s.subs.Delete(id)
		sub.close()
	}

	return sub.ch, func() {
		if sub, ok := s.subs.LoadAndDelete(id); ok {
			sub.close()
		}
	}
}

// DeviceInfo returns the register values and firmware version captured
// during the handshake.
func (s *Session) DeviceInfo() DeviceInfo { return s.info }

// Metrics returns the session metrics.
func (s *Session) Metrics() *SessionMetrics { return &s.metrics }

// State returns the lifecycle state.
func (s *Session) State() OpState { return s.state.Get() }

// ID returns the unique session identifier used in log records.
func (s *Session) ID() string { return s.id }

// Port returns the port identifier of the session.
func (s *Session) Port() string { return s.cfg.port }

// Done is closed when the session ends, either by Stop or because the
// telemetry reader terminated on its own.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the telemetry reader, such as
// ErrProtocolError. It returns nil while the reader runs and after a clean Stop.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

// Stop tears the session down: the emitter is stopped, the reader is
// signalled and joined with the join timeout, then the transport is closed
// regardless of whether the reader exited.
//
// It returns ErrJoinTimeout if the reader was still running when the
// transport was closed. Calling Stop more than once returns the first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})

	return s.stopErr
}

func (s *Session) stop() error {
	s.stopping.Store(true)
	s.state.ToClosing()
	s.logger.Debug("stopping session")

	if s.emitter != nil {
		s.emitter.Stop()
		if !s.emitter.Wait(s.cfg.joinTimeout) {
			s.logger.Warn("reading emitter did not exit in time")
		}
	}

	s.reader.Stop()
	s.cancel()
	joined := s.reader.Wait(s.cfg.joinTimeout)
	if !joined {
		s.logger.Warn("telemetry reader did not exit in time, closing transport", "timeout", s.cfg.joinTimeout)
	}

	var errs []error
	if !joined {
		errs = append(errs, fmt.Errorf("%w after %v", ErrJoinTimeout, s.cfg.joinTimeout))
	}
	if err := s.tr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("encoder: close %s: %w", s.cfg.port, err))
	}

	s.subs.Range(func(id uint64, sub *subscription) bool {
		s.subs.Delete(id)
		sub.close()

		return true
	})

	s.finish(nil)
	s.state.ToClosed()
	s.logger.Info("session stopped")

	return errors.Join(errs...)
}

func (s *Session) readerExited(err error) {
	if s.stopping.Load() {
		return
	}

	s.logger.Error("telemetry reader terminated", "error", err)
	s.finish(err)
}

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *Session) publish(r Reading) {
	s.latest.Store(&r)

	s.subs.Range(func(_ uint64, sub *subscription) bool {
		if sub.offer(r) {
			s.metrics.incSubscriberDrops()
		}

		return true
	})
}

type subscription struct {
	mu     sync.Mutex
	ch     chan Reading
	closed bool
}

// offer delivers r, replacing the oldest buffered Reading when the channel
// is full. It reports whether a Reading was dropped.
func (sub *subscription) offer(r Reading) (dropped bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return false
	}

	for {
		select {
		case sub.ch <- r:
			return dropped
		default:
		}

		select {
		case <-sub.ch:
			dropped = true
		default:
		}
	}
}

func (sub *subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
