package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/internal/pool"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

// readerState is carried from one reader iteration to the next.
type readerState struct {
	// consecutiveErrors counts adjacent ERROR lines.
	consecutiveErrors int
	// idleCycles counts reads without a line since the last line or nudge.
	idleCycles int
}

// telemetryReader is the sole reader of the transport once a session runs.
type telemetryReader struct {
	ctx     context.Context
	tr      link.Transport
	cell    *latestLine
	cfg     *Config
	logger  logger.Logger
	metrics *SessionMetrics

	// ioWarn throttles warnings about repeated read failures.
	ioWarn rate.Sometimes
}

func newTelemetryReader(ctx context.Context, tr link.Transport, cell *latestLine, cfg *Config, l logger.Logger, metrics *SessionMetrics) *telemetryReader {
	return &telemetryReader{
		ctx:     ctx,
		tr:      tr,
		cell:    cell,
		cfg:     cfg,
		logger:  l,
		metrics: metrics,
		ioWarn:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// loop returns the task body. onExit is called once with the error that
// terminated the loop. A panic in an iteration ends the loop with
// ErrReaderFault.
func (r *telemetryReader) loop(onExit func(error)) func() bool {
	var st readerState

	return func() (cont bool) {
		defer func() {
			if p := recover(); p != nil {
				onExit(fmt.Errorf("%w: panic: %v", ErrReaderFault, p))
				cont = false
			}
		}()

		var err error
		st, err = r.iterate(st)
		if err != nil {
			onExit(err)
			return false
		}

		return true
	}
}

// iterate performs one bounded read. A non-nil error ends the loop.
func (r *telemetryReader) iterate(st readerState) (readerState, error) {
	if !r.tr.IsOpen() {
		return st, link.ErrClosed
	}

	line, err := r.tr.ReadLine(r.cfg.timeout)
	switch {
	case err == nil:
		r.metrics.incLinesRead()
		return r.handleLine(st, line)

	case errors.Is(err, link.ErrReadTimeout):
		r.metrics.incReadTimeouts()
		return r.idle(st), nil

	case errors.Is(err, link.ErrClosed):
		return st, err

	default:
		r.metrics.incIOErrors()
		r.ioWarn.Do(func() {
			r.logger.Warn("telemetry read failed", "error", err, "io_errors", r.metrics.IOErrors.Load())
		})
		_ = pool.Sleep(r.ctx, r.cfg.ioErrorDelay)

		return st, nil
	}
}

func (r *telemetryReader) handleLine(st readerState, line string) (readerState, error) {
	if strings.TrimSpace(line) == "" {
		return r.idle(st), nil
	}
	st.idleCycles = 0

	if codec.ContainsErrorMarker(line) {
		r.metrics.incProtocolErrors()
		st.consecutiveErrors++
		r.logger.Warn("controller reported error", "line", line, "consecutive", st.consecutiveErrors)
		if st.consecutiveErrors >= r.cfg.errorThreshold {
			return st, fmt.Errorf("%w: %d consecutive ERROR lines", ErrProtocolError, st.consecutiveErrors)
		}

		return st, nil
	}
	st.consecutiveErrors = 0

	if _, _, ok := codec.ParseTelemetry(line); !ok {
		r.logger.Debug("ignore non-telemetry line", "line", line)
		return st, nil
	}

	r.cell.publish(line)
	r.metrics.incTelemetryLines()

	return st, nil
}

// idle counts an empty cycle and sends a read-counter nudge when configured.
func (r *telemetryReader) idle(st readerState) readerState {
	st.idleCycles++
	if r.cfg.nudgeAfter <= 0 || st.idleCycles < r.cfg.nudgeAfter {
		return st
	}
	st.idleCycles = 0

	if _, err := r.tr.Write(codec.Format(codec.ReadCounter, r.cfg.terminator)); err != nil {
		r.metrics.incIOErrors()
		r.logger.Warn("nudge failed", "error", err)

		return st
	}
	r.metrics.incNudges()
	r.logger.Debug("sent read-counter nudge")

	return st
}
