// Package logging builds the service logger.
package logging

import (
	"io"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a named production logger at the given level ("debug", "info", ...).
func New(name, level string) (golog.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger.Sugar().Named(name), nil
}

// Writer adapts a logger to an io.Writer that logs each write at info level, for
// libraries that only take a writer.
func Writer(logger golog.Logger) io.Writer {
	return zap.NewStdLog(logger.Desugar()).Writer()
}
