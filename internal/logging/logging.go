// Package logging configures the process-wide logrus logger from the
// repeatable -v flag and an optional log directory, the way linkerd2's
// CLI commands derive their log level from flag state before doing any
// real work.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Configure sets the global logrus level from verbosity (0..4, clamped)
// and, if dir is non-empty, additionally writes to <dir>/<run>.log.
// It returns a cleanup func that must be called (closing the log file)
// before process exit.
func Configure(verbosity int, dir, run string) (func(), error) {
	level := levelFor(verbosity)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if dir == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, run+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() { _ = f.Close() }, nil
}

func levelFor(verbosity int) logrus.Level {
	switch {
	case verbosity <= 0:
		return logrus.WarnLevel
	case verbosity == 1:
		return logrus.InfoLevel
	case verbosity == 2:
		return logrus.DebugLevel
	default:
		// -vvv and beyond: trace level plus caller reporting, since
		// logrus has no finer granularity than Trace for our purposes.
		logrus.SetReportCaller(true)
		return logrus.TraceLevel
	}
}
