package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/arloliu/go-qenc/encoder"
	"github.com/arloliu/go-qenc/link"
	"github.com/arloliu/go-qenc/logger"
	"github.com/arloliu/go-qenc/metric"
	"github.com/arloliu/go-qenc/sim"
)

const simPortName = "sim"

// newEncoderConfig builds the session configuration. In simulate mode the
// transport is connected to an in-process emulator.
func newEncoderConfig(s *Settings, l logger.Logger) (*encoder.Config, error) {
	opts := s.encoderOptions(l)
	port := s.Port

	if s.Simulate {
		dev := newDevice(s, l)
		opts = append(opts, encoder.WithOpener(dev.Open), encoder.WithSettleDelay(0))
		port = simPortName
	}

	return encoder.NewConfig(port, opts...)
}

func newDevice(s *Settings, l logger.Logger) *sim.Device {
	opts := []sim.Option{
		sim.WithVelocity(s.SimVelocity),
		sim.WithLogger(l.With("component", "sim")),
	}
	if s.CountsPerRevolution >= 1 {
		opts = append(opts, sim.WithCountsPerRevolution(int64(s.CountsPerRevolution)))
	}

	return sim.New(opts...)
}

func runCommand(ctx context.Context, s *Settings, stdout io.Writer) error {
	l := logger.GetLogger()

	cfg, err := newEncoderConfig(s, l)
	if err != nil {
		return err
	}

	sess, err := encoder.Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Stop(); err != nil {
			l.Warn("session stop", "error", err)
		}
	}()

	info := sess.DeviceInfo()
	l.Info("encoder ready", "firmware", info.FirmwareVersion, "mdr0", info.ProgrammedModeRegister)

	if s.MetricsListen != "" {
		shutdown, err := serveMetrics(s.MetricsListen, sess, l)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ticker := time.NewTicker(s.PrintInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			return sess.Err()
		case <-ticker.C:
			_, _ = fmt.Fprintln(stdout, sess.Read())
		}
	}
}

func serveMetrics(addr string, sess *encoder.Session, l logger.Logger) (func(), error) {
	reg, err := metric.NewRegistry(metric.NewCollector(sess))
	if err != nil {
		return nil, fmt.Errorf("metrics registry: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	srv := metric.NewServer(addr, reg)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server failed", "error", err)
		}
	}()
	l.Info("metrics server started", "addr", ln.Addr().String(), "path", metric.DefaultPath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func resetCommand(ctx context.Context, s *Settings, stdout io.Writer) error {
	cfg, err := newEncoderConfig(s, logger.GetLogger())
	if err != nil {
		return err
	}

	if err := encoder.Reset(ctx, cfg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "encoder on %s reset\n", cfg.Port())

	return nil
}

func portsCommand(_ context.Context, _ *Settings, stdout io.Writer) error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(stdout, "no serial ports found")
		return nil
	}

	for _, p := range ports {
		_, _ = fmt.Fprintln(stdout, p)
	}

	return nil
}

func simCommand(ctx context.Context, s *Settings, stdout io.Writer) error {
	l := logger.GetLogger()

	ln, err := net.Listen("tcp", s.SimListen)
	if err != nil {
		return fmt.Errorf("sim listen %s: %w", s.SimListen, err)
	}
	_, _ = fmt.Fprintf(stdout, "emulator listening on tcp://%s\n", ln.Addr())

	return newDevice(s, l).ServeListener(ctx, ln)
}
