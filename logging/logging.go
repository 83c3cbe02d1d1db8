// Package logging builds the zap loggers used by the detector.  Logs go to
// stderr since stdout carries the JSON results.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerConfig returns the console logger config at the given level
func NewLoggerConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a logger writing level and above to stderr.  Level
// names are debug, info, warn and error.
func NewLogger(level string) (*zap.Logger, error) {

	lvl, err := zapcore.ParseLevel(level)

	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	logger, err := NewLoggerConfig(lvl).Build()

	if err != nil {
		return nil, errors.Wrap(err, "error building logger")
	}

	return logger.Named("detect"), nil
}
