// Package logging configures the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configure the root logger.
type Options struct {
	Level  string // logrus level name, "info" when empty or unknown
	Format string // "json" or "text"
	Output io.Writer
}

// Setup builds the root logger from opts.
func Setup(opts Options) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	return logger
}

// New returns an entry of logger tagged with component.
func New(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// Discard returns an entry that drops everything. Components use it when
// no logger is configured.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logrus.NewEntry(logger)
}

// OrDiscard returns entry, or a discarding entry when it is nil.
func OrDiscard(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return Discard()
	}

	return entry
}
