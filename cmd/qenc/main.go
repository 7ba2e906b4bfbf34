// Command qenc talks to a rotary quadrature encoder controller over a serial
// link: it streams readings, resets the counter, lists serial devices and
// serves a controller emulator for testing without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Build information
const (
	Version = "0.1.0"
	appName = "qenc"
)

type command func(ctx context.Context, s *Settings, stdout io.Writer) error

var commands = map[string]command{
	"run":   runCommand,
	"reset": resetCommand,
	"ports": portsCommand,
	"sim":   simCommand,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return flag.ErrHelp
	}

	name := args[0]
	switch name {
	case "version", "-v", "--version":
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	case "help", "-h", "--help":
		printUsage(stderr)
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", name)
	}

	s, err := parseSettings(name, args[1:], getenv, stderr)
	if err != nil {
		return err
	}

	l, closer, err := setupLogger(s.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	if s.ConfigPath != "" {
		l.Info("configuration loaded", "path", s.ConfigPath)
	}

	if err := cmd(ctx, s, stdout); err != nil {
		l.Error("command failed", "command", name, "error", err)
		return err
	}

	return nil
}
