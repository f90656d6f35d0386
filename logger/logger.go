// Package logger implements an interface behind which a third party,
// levelled logger can sit. This abstraction allows forge to pass a
// logger down through the pipeline runner and every step without the
// choice of logging library leaking into their signatures.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface behind which forge's logger sits.
type Logger interface {
	// Sync flushes the logs to their sinks.
	Sync() error
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// ZapLogger is a Logger that uses zap under the hood.
type ZapLogger struct {
	inner *zap.SugaredLogger
	file  *os.File
}

// NewZapLogger builds and returns a ZapLogger that writes to stderr,
// and, if logPath is non-empty, also to a per-run log file at that
// path. The file is created fresh for each run, not rotated.
func NewZapLogger(verbose bool, logPath string) (*ZapLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)

	var file *os.File
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return nil, err
		}
		file = f
		fileCore := zapcore.NewCore(encoder, zapcore.AddSync(f), level)
		core = zapcore.NewTee(core, fileCore)
	}

	zapLogger := zap.New(core)
	return &ZapLogger{inner: zapLogger.Sugar(), file: file}, nil
}

// Sync flushes the logs and closes the run's log file, if any.
func (z *ZapLogger) Sync() error {
	err := z.inner.Sync()
	if z.file != nil {
		if closeErr := z.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Debug outputs a debug level log line.
func (z *ZapLogger) Debug(format string, args ...any) {
	z.inner.Debugf(format, args...)
}

// Info outputs an info level log line.
func (z *ZapLogger) Info(format string, args ...any) {
	z.inner.Infof(format, args...)
}

// Warn outputs a warn level log line.
func (z *ZapLogger) Warn(format string, args ...any) {
	z.inner.Warnf(format, args...)
}

// Error outputs an error level log line.
func (z *ZapLogger) Error(format string, args ...any) {
	z.inner.Errorf(format, args...)
}
