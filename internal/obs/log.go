package obs

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger and replaces zap's globals.
// level is one of debug, info, warn, error; format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Logger returns the shared logger. It is a no-op until NewLogger runs.
func Logger() *zap.Logger {
	return zap.L()
}

// LogRequest emits one access-log line.
func LogRequest(method, path string, status int, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+3)
	all = append(all,
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
	)
	all = append(all, fields...)
	switch {
	case status >= 500:
		Logger().Error("http request", all...)
	case status >= 400:
		Logger().Warn("http request", all...)
	default:
		Logger().Info("http request", all...)
	}
}
