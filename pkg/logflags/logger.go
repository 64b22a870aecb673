package logflags

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging interface handed out to the layers of vgregs.
type Logger interface {
	// WithFields returns a Logger that adds fields to every entry.
	WithFields(fields Fields) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Fields are key/value pairs attached to log entries.
type Fields map[string]interface{}

// logrusLogger implements Logger over a logrus entry.
type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}
