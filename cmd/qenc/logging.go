package main

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arloliu/go-qenc/logger"
)

// setupLogger builds the process logger and installs it as default.
// The returned closer releases the log file, if any.
func setupLogger(ls LogSettings) (logger.Logger, io.Closer, error) {
	level, err := logger.ParseLevel(ls.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if ls.File != "" {
		lj := &lumberjack.Logger{
			Filename:   ls.File,
			MaxSize:    ls.MaxSizeMB,
			MaxBackups: ls.MaxBackups,
			MaxAge:     ls.MaxAgeDays,
			Compress:   ls.Compress,
		}
		w, closer = lj, lj
	}

	l := logger.NewSlogWithWriter(w, logger.Format(ls.Format), level, level == logger.DebugLevel).
		With("app", appName, "version", Version, "pid", os.Getpid())
	logger.SetDefault(l)

	return l, closer, nil
}
