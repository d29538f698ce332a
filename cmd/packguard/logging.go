package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type logOptions struct {
	Level  string
	Format string
	File   string
}

// newLogger builds the process logger. A non-empty File writes to a
// timestamped file in addition to stdout.
func newLogger(opts logOptions) (*logrus.Logger, func(), error) {
	l := logrus.New()

	switch opts.Level {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warning", "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	if opts.File == "" {
		l.SetOutput(os.Stdout)
		return l, func() {}, nil
	}
	name := fmt.Sprintf("%s_%s.log", opts.File, time.Now().Format("2006-01-02_15-04-05"))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", name, err)
	}
	l.SetOutput(io.MultiWriter(file, os.Stdout))
	return l, func() { _ = file.Close() }, nil
}
