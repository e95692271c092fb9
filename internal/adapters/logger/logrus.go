package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusLogger implements the ports.Logger interface on top of logrus.
type LogrusLogger struct {
	log *logrus.Logger
}

// ParseLevel converts a string level to a logrus level, defaulting to Info.
func ParseLevel(levelStr string) logrus.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return logrus.DebugLevel
	case "INFO":
		return logrus.InfoLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogrusLogger creates a structured logger writing to stderr.
func NewLogrusLogger(level logrus.Level) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &LogrusLogger{log: l}
}

func mergeFields(fields []map[string]interface{}) logrus.Fields {
	merged := logrus.Fields{}
	for _, fieldMap := range fields {
		for k, v := range fieldMap {
			merged[k] = v
		}
	}
	return merged
}

// Debug logs a message at Debug level.
func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log.WithContext(ctx).WithFields(mergeFields(fields)).Debug(msg)
}

// Info logs a message at Info level.
func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log.WithContext(ctx).WithFields(mergeFields(fields)).Info(msg)
}

// Warn logs a message at Warning level.
func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log.WithContext(ctx).WithFields(mergeFields(fields)).Warn(msg)
}

// Error logs an error message at Error level.
func (l *LogrusLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	entry := l.log.WithContext(ctx).WithFields(mergeFields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
