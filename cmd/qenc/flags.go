package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

const envConfig = "QENC_CONFIG"

// newFlagSet binds the command line flags to s. Current values of s are the defaults.
func newFlagSet(name string, s *Settings, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&s.ConfigPath, "config", s.ConfigPath, "Path to YAML configuration file (env: QENC_CONFIG)")
	fs.StringVar(&s.Port, "port", s.Port, "Serial device or tcp://host:port (env: QENC_PORT)")
	fs.IntVar(&s.BaudRate, "baud", s.BaudRate, "Baud rate (env: QENC_BAUD_RATE)")
	fs.DurationVar(&s.Timeout, "timeout", s.Timeout, "Per-line read timeout (env: QENC_TIMEOUT)")
	fs.Float64Var(&s.CountsPerRevolution, "cpr", s.CountsPerRevolution, "Counts per revolution (env: QENC_COUNTS_PER_REVOLUTION)")
	fs.BoolVar(&s.Debug, "debug", s.Debug, "Switch controller debug output on (env: QENC_DEBUG)")
	fs.BoolVar(&s.StrictHandshake, "strict", s.StrictHandshake, "Fail on unverifiable register reads and clears (env: QENC_STRICT_HANDSHAKE)")
	fs.DurationVar(&s.EmitInterval, "emit-interval", s.EmitInterval, "Reading emitter period (env: QENC_EMIT_INTERVAL)")
	fs.DurationVar(&s.SettleDelay, "settle", s.SettleDelay, "Wait after opening the port (env: QENC_SETTLE_DELAY)")
	fs.IntVar(&s.NudgeAfter, "nudge-after", s.NudgeAfter, "Idle reads before a read-counter nudge, 0 disables (env: QENC_NUDGE_AFTER)")
	fs.DurationVar(&s.PrintInterval, "print-interval", s.PrintInterval, "Interval between printed readings")
	fs.StringVar(&s.MetricsListen, "metrics", s.MetricsListen, "Prometheus listen address, empty disables (env: QENC_METRICS_LISTEN)")
	fs.BoolVar(&s.Simulate, "simulate", s.Simulate, "Use the built-in controller emulator (env: QENC_SIMULATE)")
	fs.Int64Var(&s.SimVelocity, "sim-velocity", s.SimVelocity, "Emulator counts per telemetry tick")
	fs.StringVar(&s.SimListen, "listen", s.SimListen, "Emulator TCP listen address for the sim command")
	fs.StringVar(&s.Log.Level, "log-level", s.Log.Level, "Log level: debug, info, warn, error (env: QENC_LOG_LEVEL)")
	fs.StringVar(&s.Log.Format, "log-format", s.Log.Format, "Log format: json, console (env: QENC_LOG_FORMAT)")
	fs.StringVar(&s.Log.File, "log-file", s.Log.File, "Write logs to a rotating file instead of stderr (env: QENC_LOG_FILE)")

	return fs
}

// parseSettings resolves the settings for args, the arguments following the command name.
func parseSettings(cmd string, args []string, getenv func(string) string, output io.Writer) (*Settings, error) {
	// first pass only locates the configuration file
	first := defaultSettings()
	first.ConfigPath = getenv(envConfig)
	if err := newFlagSet(cmd, first, output).Parse(args); err != nil {
		return nil, err
	}

	s := defaultSettings()
	if first.ConfigPath != "" {
		if err := s.loadFile(first.ConfigPath); err != nil {
			return nil, err
		}
	}
	if err := s.applyEnv(getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	fs := newFlagSet(cmd, s, io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - rotary encoder link tool

Usage: %s <command> [options]

Commands:
  run     Initialize the controller and print readings
  reset   Reset and clear the encoder counter
  ports   List serial devices
  sim     Serve the controller emulator over TCP
  version Print the version

Run "%s <command> -h" for the options of a command.

Examples:
  %s run -port /dev/ttyACM0 -metrics :9100
  %s run -simulate -log-format console
  %s sim -listen 127.0.0.1:7366 & %s run -port tcp://127.0.0.1:7366
`, appName, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
