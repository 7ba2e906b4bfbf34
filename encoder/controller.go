package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/internal/pool"
	"github.com/arloliu/go-qenc/internal/retry"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

var (
	errUnrelatedLine = errors.New("encoder: unrelated line")
	errNoCount       = errors.New("encoder: no count field")
	errNotCleared    = errors.New("encoder: count above clear tolerance")
)

// controller runs command/response exchanges on a transport it uses
// exclusively. It is used by the handshake and the standalone reset, always
// before a telemetry reader owns the transport.
type controller struct {
	tr      link.Transport
	cfg     *Config
	logger  logger.Logger
	metrics *SessionMetrics
}

func newController(tr link.Transport, cfg *Config, l logger.Logger, metrics *SessionMetrics) *controller {
	return &controller{tr: tr, cfg: cfg, logger: l, metrics: metrics}
}

func (c *controller) send(cmd codec.Command) error {
	c.logger.Debug("send command", "cmd", cmd)
	if _, err := c.tr.Write(codec.Format(cmd, c.cfg.terminator)); err != nil {
		c.metrics.incIOErrors()
		return fmt.Errorf("encoder: write %s: %w", cmd, err)
	}

	return nil
}

// await reads lines until match accepts one or attempts lines were read.
// Each attempt is one read bounded by the transport timeout.
func (c *controller) await(ctx context.Context, cmd codec.Command, attempts int, match func(string) bool) (string, error) {
	var resp string
	policy := retry.Policy{
		Attempts: attempts,
		OnRetry: func(int, error) {
			c.metrics.incHandshakeRetries()
		},
	}

	err := retry.Do(ctx, policy, func(int) error {
		line, err := c.tr.ReadLine(c.cfg.timeout)
		if err != nil {
			if errors.Is(err, link.ErrClosed) {
				return retry.Permanent(err)
			}

			return err
		}
		if !match(line) {
			c.logger.Debug("skip line", "cmd", cmd, "line", line)
			return errUnrelatedLine
		}
		resp = line

		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return "", fmt.Errorf("%w to %s: %w", ErrNoResponse, cmd, err)
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("response", "cmd", cmd, "line", resp)

	return resp, nil
}

// exchange sends cmd and waits for a line containing tag.
func (c *controller) exchange(ctx context.Context, cmd codec.Command, tag string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}

	return c.await(ctx, cmd, c.cfg.responseAttempts, func(line string) bool {
		return strings.Contains(line, tag)
	})
}

// clearCounter zeroes the counter and checks that a near-zero Count follows.
//
// An unverifiable clear is only logged unless the handshake is strict.
func (c *controller) clearCounter(ctx context.Context) error {
	if err := c.send(codec.ClearCounter); err != nil {
		return err
	}

	var last int64
	seen := false
	policy := retry.Policy{
		Attempts: c.cfg.clearAttempts,
		Delay:    c.cfg.clearInterval,
	}

	err := retry.Do(ctx, policy, func(attempt int) error {
		line, err := c.tr.ReadLine(c.cfg.timeout)
		if err != nil {
			if errors.Is(err, link.ErrClosed) {
				return retry.Permanent(err)
			}

			return err
		}

		count, ok := codec.ParseCountField(line)
		if !ok {
			return errNoCount
		}
		last, seen = count, true
		if abs(count) > c.cfg.clearTolerance {
			c.logger.Debug("counter not cleared yet", "attempt", attempt, "count", count)
			return errNotCleared
		}

		return nil
	})

	switch {
	case err == nil:
		c.logger.Debug("counter cleared", "count", last)
	case errors.Is(err, retry.ErrExhausted):
		if c.cfg.strictHandshake {
			return fmt.Errorf("%w: %w", ErrClearUnverified, err)
		}
		if seen {
			c.logger.Warn("counter clear not verified", "last_count", last, "tolerance", c.cfg.clearTolerance)
		} else {
			c.logger.Warn("counter clear not verified, no count received")
		}
	default:
		return err
	}

	return pool.Sleep(ctx, c.cfg.clearSettleDelay)
}

// drain discards lines that are already waiting and returns how many it
// discarded. It stops at the first read timeout with nothing buffered, when
// ctx is done, or after maxDrainLines reads. An unterminated fragment still
// buffered at that point is left to the reader.
func (c *controller) drain(ctx context.Context) int {
	n := 0
	for range c.cfg.maxDrainLines {
		if ctx.Err() != nil {
			break
		}

		line, err := c.tr.ReadLine(c.cfg.drainTimeout)
		if err == nil {
			c.logger.Debug("drain line", "line", line)
			n++

			continue
		}
		if !errors.Is(err, link.ErrReadTimeout) || c.tr.Buffered() == 0 {
			break
		}
	}

	return n
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}

// isSoftFailure reports whether err only means that no matching line arrived.
func isSoftFailure(err error) bool {
	return errors.Is(err, ErrNoResponse)
}
