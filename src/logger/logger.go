package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Options configures the zap core shared by every component logger.
type Options struct {
	Level  string // DEBUG, INFO, WARNING, ERROR
	Format string // "json" or "console"
}

// -----------------------------------------------------------------------------

// Logger provides printf-style component logging on top of zap.
type Logger struct {
	name  string
	sugar *zap.SugaredLogger
	base  *zap.Logger
	exit  func(int)
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(opts Options, name string) *Logger {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewExample()
	}
	return wrap(base.Named(name), name)
}

// -----------------------------------------------------------------------------

// NewNop returns a Logger that discards everything. Critical does not exit.
func NewNop() *Logger {
	l := wrap(zap.NewNop(), "nop")
	l.exit = func(int) {}
	return l
}

// -----------------------------------------------------------------------------

func wrap(base *zap.Logger, name string) *Logger {
	return &Logger{
		name:  name,
		base:  base,
		sugar: base.Sugar(),
		exit:  os.Exit,
	}
}

// -----------------------------------------------------------------------------

// Named returns a child logger for a sub-component sharing the same core.
func (l *Logger) Named(name string) *Logger {
	child := wrap(l.base.Named(name), l.name+"."+name)
	child.exit = l.exit
	return child
}

// -----------------------------------------------------------------------------

// With returns a child logger that always carries the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{
		name:  l.name,
		base:  sugar.Desugar(),
		sugar: sugar,
		exit:  l.exit,
	}
}

// -----------------------------------------------------------------------------

// Debug logs debugging messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
	_ = l.base.Sync()
	l.exit(1)
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// -----------------------------------------------------------------------------

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARNING", "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
