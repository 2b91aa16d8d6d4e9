// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      string // debug, info, warn, error
	Output     io.Writer
	ReportTime bool
	Prefix     string
}

// DefaultConfig returns the default logging configuration: info level,
// stderr output, timestamps on.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     os.Stderr,
		ReportTime: true,
		Prefix:     "nlbd",
	}
}

// Logger wraps a charmbracelet/log logger with the structured key/value
// call shape used throughout the control plane.
type Logger struct {
	l *charmlog.Logger
}

// New creates a Logger from the given Config.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := charmlog.NewWithOptions(cfg.Output, charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Prefix:          cfg.Prefix,
	})
	l.SetLevel(parseLevel(cfg.Level))
	return &Logger{l: l}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Info logs at info level with alternating key/value pairs.
func (lg *Logger) Info(msg string, kv ...any) { lg.l.Info(msg, kv...) }

// Warn logs at warn level with alternating key/value pairs.
func (lg *Logger) Warn(msg string, kv ...any) { lg.l.Warn(msg, kv...) }

// Debug logs at debug level with alternating key/value pairs.
func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }

// Error logs at error level with alternating key/value pairs.
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// fieldLogger carries a pending field set or error to attach to the next
// log call, mirroring the logrus-style chained-field API the core calls
// into (logger.WithFields(...).Error(...)).
type fieldLogger struct {
	l   *charmlog.Logger
	err error
	kv  []any
}

// WithFields returns a logger-like value pre-loaded with the given fields.
func (lg *Logger) WithFields(fields map[string]any) *fieldLogger {
	fl := &fieldLogger{l: lg.l}
	for k, v := range fields {
		fl.kv = append(fl.kv, k, v)
	}
	return fl
}

// WithError returns a logger-like value pre-loaded with an error field.
func (lg *Logger) WithError(err error) *fieldLogger {
	return &fieldLogger{l: lg.l, err: err}
}

func (fl *fieldLogger) args() []any {
	if fl.err == nil {
		return fl.kv
	}
	return append([]any{"error", fl.err}, fl.kv...)
}

func (fl *fieldLogger) Info(msg string)  { fl.l.Info(msg, fl.args()...) }
func (fl *fieldLogger) Warn(msg string)  { fl.l.Warn(msg, fl.args()...) }
func (fl *fieldLogger) Error(msg string) { fl.l.Error(msg, fl.args()...) }
func (fl *fieldLogger) Debug(msg string) { fl.l.Debug(msg, fl.args()...) }
