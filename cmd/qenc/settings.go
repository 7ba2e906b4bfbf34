package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-qenc/encoder"
	"github.com/arloliu/go-qenc/logger"
)

// Settings is the resolved configuration of one qenc invocation.
//
// Values are layered: built-in defaults, then the YAML file, then QENC_*
// environment variables, then explicit command line flags.
type Settings struct {
	Port                 string        `yaml:"port"`
	BaudRate             int           `yaml:"baud_rate"`
	Timeout              time.Duration `yaml:"timeout"`
	CountsPerRevolution  float64       `yaml:"counts_per_revolution"`
	Debug                bool          `yaml:"debug"`
	StrictHandshake      bool          `yaml:"strict_handshake"`
	ExpectedModeRegister *int64        `yaml:"expected_mode_register"`
	ErrorThreshold       int           `yaml:"error_threshold"`
	EmitInterval         time.Duration `yaml:"emit_interval"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	NudgeAfter           int           `yaml:"nudge_after"`
	CommandTerminator    string        `yaml:"command_terminator"`

	PrintInterval time.Duration `yaml:"print_interval"`
	MetricsListen string        `yaml:"metrics_listen"`

	Simulate    bool   `yaml:"simulate"`
	SimVelocity int64  `yaml:"sim_velocity"`
	SimListen   string `yaml:"sim_listen"`

	Log LogSettings `yaml:"log"`

	ConfigPath string `yaml:"-"`
}

// LogSettings selects the log level, format and an optional rotating file.
type LogSettings struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func defaultSettings() *Settings {
	return &Settings{
		Port:                "/dev/ttyACM0",
		BaudRate:            encoder.DefaultBaudRate,
		Timeout:             encoder.DefaultTimeout,
		CountsPerRevolution: encoder.DefaultCountsPerRevolution,
		ErrorThreshold:      encoder.DefaultErrorThreshold,
		EmitInterval:        encoder.DefaultEmitInterval,
		SettleDelay:         encoder.DefaultSettleDelay,
		PrintInterval:       100 * time.Millisecond,
		SimVelocity:         16,
		SimListen:           "127.0.0.1:7366",
		Log: LogSettings{
			Level:      "info",
			Format:     string(logger.JSONFormat),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadFile overlays the YAML file at path onto s.
func (s *Settings) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	s.ConfigPath = path

	return nil
}

// applyEnv overlays QENC_* environment variables onto s.
func (s *Settings) applyEnv(getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("QENC_PORT", &s.Port)
	integer("QENC_BAUD_RATE", &s.BaudRate)
	duration("QENC_TIMEOUT", &s.Timeout)
	if v := getenv("QENC_COUNTS_PER_REVOLUTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("QENC_COUNTS_PER_REVOLUTION: %w", err))
		} else {
			s.CountsPerRevolution = f
		}
	}
	boolean("QENC_DEBUG", &s.Debug)
	boolean("QENC_STRICT_HANDSHAKE", &s.StrictHandshake)
	duration("QENC_EMIT_INTERVAL", &s.EmitInterval)
	duration("QENC_SETTLE_DELAY", &s.SettleDelay)
	integer("QENC_NUDGE_AFTER", &s.NudgeAfter)
	str("QENC_METRICS_LISTEN", &s.MetricsListen)
	boolean("QENC_SIMULATE", &s.Simulate)
	str("QENC_LOG_LEVEL", &s.Log.Level)
	str("QENC_LOG_FORMAT", &s.Log.Format)
	str("QENC_LOG_FILE", &s.Log.File)

	return errors.Join(errs...)
}

func (s *Settings) validate() error {
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		return err
	}

	switch logger.Format(s.Log.Format) {
	case logger.JSONFormat, logger.ConsoleFormat:
	default:
		return fmt.Errorf("invalid log format: %s", s.Log.Format)
	}

	if s.PrintInterval <= 0 {
		return fmt.Errorf("invalid print interval: %v", s.PrintInterval)
	}

	return nil
}

// encoderOptions converts s into encoder options.
func (s *Settings) encoderOptions(l logger.Logger) []encoder.Option {
	opts := []encoder.Option{
		encoder.WithBaudRate(s.BaudRate),
		encoder.WithTimeout(s.Timeout),
		encoder.WithCountsPerRevolution(s.CountsPerRevolution),
		encoder.WithDebug(s.Debug),
		encoder.WithStrictHandshake(s.StrictHandshake),
		encoder.WithErrorThreshold(s.ErrorThreshold),
		encoder.WithEmitInterval(s.EmitInterval),
		encoder.WithSettleDelay(s.SettleDelay),
		encoder.WithNudgeAfter(s.NudgeAfter),
		encoder.WithCommandTerminator(s.CommandTerminator),
		encoder.WithLogger(l),
	}
	if s.ExpectedModeRegister != nil {
		opts = append(opts, encoder.WithExpectedModeRegister(*s.ExpectedModeRegister))
	}

	return opts
}
