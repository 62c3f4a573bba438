// Package logging centralizes the logrus defaults used by blockbridge
// components that accept an optional *logrus.Logger.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
)

// OrDefault returns l, or a new logger at Warn level when l is nil.
func OrDefault(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// Discard returns a logger that drops everything. Useful in tests and
// benchmarks.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ParseLevel parses a logrus level name for module's log_level setting.
func ParseLevel(module, level string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, bberrors.NewValidationError(module, "log_level", level, "unknown level").
			WithHint("use panic, fatal, error, warn, info, debug or trace")
	}
	return lvl, nil
}
