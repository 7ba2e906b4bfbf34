package encoder

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
)

// Default link parameters.
const (
	DefaultBaudRate            = 9600
	DefaultTimeout             = 500 * time.Millisecond
	DefaultCountsPerRevolution = 8192.0

	DefaultResponseAttempts = 150
	DefaultClearAttempts    = 5
	DefaultClearInterval    = 50 * time.Millisecond
	DefaultClearTolerance   = 1000
	DefaultErrorThreshold   = 5

	DefaultEmitInterval     = 10 * time.Millisecond
	DefaultSettleDelay      = 2 * time.Second
	DefaultClearSettleDelay = 100 * time.Millisecond
	DefaultDrainTimeout     = 20 * time.Millisecond
	DefaultMaxDrainLines    = 32
	DefaultJoinTimeout      = time.Second
	DefaultIOErrorDelay     = 100 * time.Millisecond
	DefaultSubscriberBuffer = 16
)

// Parameter range limits.
const (
	MinTimeout = time.Millisecond
	MaxTimeout = time.Minute

	MinEmitInterval = time.Millisecond
	MaxEmitInterval = time.Minute

	MaxResponseAttempts = 10000
	MaxErrorThreshold   = 1000
)

// Opener creates the transport for a session. The default opener is link.Open.
type Opener func(port string, baudRate int) (link.Transport, error)

// Config holds the immutable parameters of a link session.
//
// A Config is created by NewConfig and never modified afterwards, so it may be
// shared by several sessions and standalone resets.
type Config struct {
	port                string
	baudRate            int
	timeout             time.Duration
	countsPerRevolution float64
	debug               bool

	strictHandshake    bool
	responseAttempts   int
	clearAttempts      int
	clearInterval      time.Duration
	clearTolerance     int64
	expectedModeReg    int64
	hasExpectedModeReg bool
	errorThreshold     int

	emitInterval     time.Duration
	settleDelay      time.Duration
	clearSettleDelay time.Duration
	drainTimeout     time.Duration
	maxDrainLines    int
	joinTimeout      time.Duration
	ioErrorDelay     time.Duration
	nudgeAfter       int
	terminator       string
	subscriberBuffer int

	opener Opener
	logger logger.Logger
}

// NewConfig creates a session configuration for the given port identifier.
//
// port is a serial device path or a "tcp://host:port" bridge address.
// opts are functional options applied in order; see With* functions.
func NewConfig(port string, opts ...Option) (*Config, error) {
	if port == "" {
		return nil, errors.New("encoder: port is empty")
	}

	cfg := &Config{
		port:                port,
		baudRate:            DefaultBaudRate,
		timeout:             DefaultTimeout,
		countsPerRevolution: DefaultCountsPerRevolution,
		responseAttempts:    DefaultResponseAttempts,
		clearAttempts:       DefaultClearAttempts,
		clearInterval:       DefaultClearInterval,
		clearTolerance:      DefaultClearTolerance,
		errorThreshold:      DefaultErrorThreshold,
		emitInterval:        DefaultEmitInterval,
		settleDelay:         DefaultSettleDelay,
		clearSettleDelay:    DefaultClearSettleDelay,
		drainTimeout:        DefaultDrainTimeout,
		maxDrainLines:       DefaultMaxDrainLines,
		joinTimeout:         DefaultJoinTimeout,
		ioErrorDelay:        DefaultIOErrorDelay,
		subscriberBuffer:    DefaultSubscriberBuffer,
		opener:              link.Open,
		logger:              logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Port returns the port identifier.
func (cfg *Config) Port() string { return cfg.port }

// BaudRate returns the serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// Timeout returns the per-read I/O timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// CountsPerRevolution returns the count-to-angle scale factor.
func (cfg *Config) CountsPerRevolution() float64 { return cfg.countsPerRevolution }

// Debug reports whether controller debug output is switched on during the handshake.
func (cfg *Config) Debug() bool { return cfg.debug }

// StrictHandshake reports whether unverifiable register reads and counter
// clears fail the handshake instead of being logged.
func (cfg *Config) StrictHandshake() bool { return cfg.strictHandshake }

// ResponseAttempts returns the number of line reads allowed per handshake response.
func (cfg *Config) ResponseAttempts() int { return cfg.responseAttempts }

// ClearAttempts returns the number of reads used to verify a counter clear.
func (cfg *Config) ClearAttempts() int { return cfg.clearAttempts }

// ClearInterval returns the delay between clear verification reads.
func (cfg *Config) ClearInterval() time.Duration { return cfg.clearInterval }

// ClearTolerance returns the largest absolute count accepted as cleared.
func (cfg *Config) ClearTolerance() int64 { return cfg.clearTolerance }

// ExpectedModeRegister returns the MDR0 value the program step must echo, if configured.
func (cfg *Config) ExpectedModeRegister() (int64, bool) {
	return cfg.expectedModeReg, cfg.hasExpectedModeReg
}

// ErrorThreshold returns the number of consecutive ERROR lines that stop the reader.
func (cfg *Config) ErrorThreshold() int { return cfg.errorThreshold }

// EmitInterval returns the reading emitter period.
func (cfg *Config) EmitInterval() time.Duration { return cfg.emitInterval }

// SettleDelay returns the wait after opening the port.
func (cfg *Config) SettleDelay() time.Duration { return cfg.settleDelay }

// ClearSettleDelay returns the wait after a counter clear was verified.
func (cfg *Config) ClearSettleDelay() time.Duration { return cfg.clearSettleDelay }

// DrainTimeout returns the per-line timeout used while draining residual input.
func (cfg *Config) DrainTimeout() time.Duration { return cfg.drainTimeout }

// JoinTimeout returns how long Stop waits for the reader before closing the transport.
func (cfg *Config) JoinTimeout() time.Duration { return cfg.joinTimeout }

// IOErrorDelay returns the pause after an unexpected read error.
func (cfg *Config) IOErrorDelay() time.Duration { return cfg.ioErrorDelay }

// NudgeAfter returns the number of idle reader cycles before a read-counter
// command is sent; zero disables nudging.
func (cfg *Config) NudgeAfter() int { return cfg.nudgeAfter }

// CommandTerminator returns the bytes appended to every command.
func (cfg *Config) CommandTerminator() string { return cfg.terminator }

// SubscriberBuffer returns the channel capacity of new subscriptions.
func (cfg *Config) SubscriberBuffer() int { return cfg.subscriberBuffer }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the serial baud rate.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("encoder: invalid baud rate %d", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithTimeout sets the I/O timeout of a single line read.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinTimeout || d > MaxTimeout {
			return fmt.Errorf("encoder: timeout %v out of range [%v, %v]", d, MinTimeout, MaxTimeout)
		}
		cfg.timeout = d

		return nil
	})
}

// WithCountsPerRevolution sets the number of counts in one full turn.
func WithCountsPerRevolution(cpr float64) Option {
	return optFunc(func(cfg *Config) error {
		if cpr <= 0 || math.IsNaN(cpr) || math.IsInf(cpr, 0) {
			return fmt.Errorf("encoder: invalid counts per revolution %v", cpr)
		}
		cfg.countsPerRevolution = cpr

		return nil
	})
}

// WithDebug switches controller debug output on during the handshake.
func WithDebug(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.debug = enabled
		return nil
	})
}

// WithStrictHandshake makes unverifiable register reads and counter clears fatal.
// It is disabled by default.
func WithStrictHandshake(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.strictHandshake = enabled
		return nil
	})
}

// WithResponseAttempts sets the number of line reads allowed per handshake response.
func WithResponseAttempts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxResponseAttempts {
			return fmt.Errorf("encoder: response attempts %d out of range [1, %d]", n, MaxResponseAttempts)
		}
		cfg.responseAttempts = n

		return nil
	})
}

// WithClearAttempts sets the number of reads used to verify a counter clear.
func WithClearAttempts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxResponseAttempts {
			return fmt.Errorf("encoder: clear attempts %d out of range [1, %d]", n, MaxResponseAttempts)
		}
		cfg.clearAttempts = n

		return nil
	})
}

// WithClearInterval sets the delay between clear verification reads.
func WithClearInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("encoder: negative clear interval %v", d)
		}
		cfg.clearInterval = d

		return nil
	})
}

// WithClearTolerance sets the largest absolute count accepted as a cleared counter.
func WithClearTolerance(counts int64) Option {
	return optFunc(func(cfg *Config) error {
		if counts < 0 {
			return fmt.Errorf("encoder: negative clear tolerance %d", counts)
		}
		cfg.clearTolerance = counts

		return nil
	})
}

// WithExpectedModeRegister requires the MDR0 echo of the program step to equal v.
func WithExpectedModeRegister(v int64) Option {
	return optFunc(func(cfg *Config) error {
		cfg.expectedModeReg = v
		cfg.hasExpectedModeReg = true

		return nil
	})
}

// WithErrorThreshold sets the number of consecutive ERROR lines that stop the reader.
func WithErrorThreshold(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxErrorThreshold {
			return fmt.Errorf("encoder: error threshold %d out of range [1, %d]", n, MaxErrorThreshold)
		}
		cfg.errorThreshold = n

		return nil
	})
}

// WithEmitInterval sets the reading emitter period.
func WithEmitInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinEmitInterval || d > MaxEmitInterval {
			return fmt.Errorf("encoder: emit interval %v out of range [%v, %v]", d, MinEmitInterval, MaxEmitInterval)
		}
		cfg.emitInterval = d

		return nil
	})
}

// WithSettleDelay sets the wait after opening the port, covering the
// controller reset triggered by DTR.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("encoder: negative settle delay %v", d)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithClearSettleDelay sets the wait after a counter clear.
func WithClearSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("encoder: negative clear settle delay %v", d)
		}
		cfg.clearSettleDelay = d

		return nil
	})
}

// WithDrainTimeout sets the per-line timeout used to drain residual input
// at the end of the handshake.
func WithDrainTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinTimeout || d > MaxTimeout {
			return fmt.Errorf("encoder: drain timeout %v out of range [%v, %v]", d, MinTimeout, MaxTimeout)
		}
		cfg.drainTimeout = d

		return nil
	})
}

// WithJoinTimeout sets how long Stop waits for the reader to exit.
func WithJoinTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("encoder: invalid join timeout %v", d)
		}
		cfg.joinTimeout = d

		return nil
	})
}

// WithIOErrorDelay sets the pause after an unexpected read error.
func WithIOErrorDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("encoder: negative I/O error delay %v", d)
		}
		cfg.ioErrorDelay = d

		return nil
	})
}

// WithNudgeAfter makes the reader send a read-counter command after n
// consecutive idle cycles. Zero disables nudging.
func WithNudgeAfter(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return fmt.Errorf("encoder: negative nudge threshold %d", n)
		}
		cfg.nudgeAfter = n

		return nil
	})
}

// WithCommandTerminator sets the bytes appended to every command, e.g. "\n"
// for firmware that reads whole lines.
func WithCommandTerminator(term string) Option {
	return optFunc(func(cfg *Config) error {
		for _, c := range []byte(term) {
			if c != '\r' && c != '\n' {
				return fmt.Errorf("encoder: invalid command terminator %q", term)
			}
		}
		cfg.terminator = term

		return nil
	})
}

// WithSubscriberBuffer sets the channel capacity of new subscriptions.
func WithSubscriberBuffer(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("encoder: invalid subscriber buffer %d", n)
		}
		cfg.subscriberBuffer = n

		return nil
	})
}

// WithOpener replaces the transport factory, e.g. to run against an emulator.
func WithOpener(opener Opener) Option {
	return optFunc(func(cfg *Config) error {
		if opener == nil {
			return errors.New("encoder: opener is nil")
		}
		cfg.opener = opener

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("encoder: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
