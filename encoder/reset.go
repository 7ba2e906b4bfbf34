package encoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/go-qenc/codec"
	"github.com/arloliu/go-qenc/internal/pool"
)

// Reset zeroes the encoder counter over a short-lived connection of its own.
//
// It resets the counter chip, clears and verifies the counter, and forces one
// counter read to confirm the controller is alive. The transport is closed
// before Reset returns. Reset must not be called on a port that a running
// Session holds open.
func Reset(ctx context.Context, cfg *Config) (err error) {
	l := cfg.logger.With("port", cfg.port)

	tr, err := cfg.opener(cfg.port, cfg.baudRate)
	if err != nil {
		return fmt.Errorf("encoder: open %s: %w", cfg.port, err)
	}
	defer func() {
		if cerr := tr.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("encoder: close %s: %w", cfg.port, cerr))
		}
	}()

	if err := pool.Sleep(ctx, cfg.settleDelay); err != nil {
		return err
	}

	c := newController(tr, cfg, l, &SessionMetrics{})

	if err := c.send(codec.ResetChip); err != nil {
		return fmt.Errorf("encoder: reset chip: %w", err)
	}

	if err := c.clearCounter(ctx); err != nil {
		return fmt.Errorf("encoder: reset: %w", err)
	}

	line, err := c.exchange(ctx, codec.ReadCounter, codec.CountLabel)
	if err != nil {
		if cfg.strictHandshake || !isSoftFailure(err) {
			return fmt.Errorf("encoder: reset: read counter: %w", err)
		}
		l.Warn("no counter reading after reset", "error", err)

		return nil
	}

	if count, ok := codec.ParseCountField(line); ok {
		l.Info("encoder reset", "count", count)
	} else {
		l.Info("encoder reset", "line", line)
	}

	return nil
}
