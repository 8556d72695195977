// Package logger holds the process-wide zap logger used by the entry points.
//
// InitLogger builds a production logger at the requested level and stores it
// in Log; call it once at startup, before anything else logs. An unrecognized
// level name falls back to info rather than failing startup:
//
//	logger.InitLogger(cfg.LogLevel)
//	logger.Log.Info("listening", zap.Int("port", cfg.Port))
//
// Library packages in this module take a *zap.Logger explicitly instead of
// reading the global; Log exists for main and its wiring.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func InitLogger(level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var err error
	Log, err = cfg.Build()
	if err != nil {
		panic(err)
	}
}
