// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger writing to stdout at the given level.
func New(level string) (*Logger, error) {
	return NewWithOutput(level, "stdout")
}

// NewWithOutput creates a JSON logger writing to a zap output path. The CLI
// logs to stderr so that stdout stays machine readable.
func NewWithOutput(level, output string) (*Logger, error) {
	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.SecondsDurationEncoder

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.EncoderConfig = encoder
	config.Sampling = nil
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	zl, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// NewDevelopment creates a development logger with pretty output.
func NewDevelopment() (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	zl, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithJob scopes a logger to one streamed job.
func (l *Logger) WithJob(kind, jobID string) *Logger {
	return l.With(zap.String("job_kind", kind), zap.String("job_id", jobID))
}

// OrNop returns l, or a no-op logger when l is nil.
func (l *Logger) OrNop() *Logger {
	if l == nil || l.Logger == nil {
		return Nop()
	}
	return l
}

// parseLevel accepts zap level names plus "warning". Anything else is info.
func parseLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

var global = defaultGlobal()

func defaultGlobal() *Logger {
	var (
		l   *Logger
		err error
	)
	if os.Getenv("ENV") == "development" {
		l, err = NewDevelopment()
	} else {
		l, err = New("info")
	}
	if err != nil {
		return Nop()
	}
	return l
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global = l.OrNop()
}
