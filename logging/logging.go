// Package logging provides the shared zap logger construction that
// cmd/reassemble uses for its "capture" and "registry" loggers, mirroring
// the streamLog/reassemblyLog package-level logger convention.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded zap.Logger named after the owning subsystem
// (e.g. "registry", "capture"), at the given minimum level.
func New(name string, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	return zap.New(core).Named(name)
}
