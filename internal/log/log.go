// Package log holds the process-wide zap logger. Components prefix their
// messages with a segment tag (for example "SENTINEL_API:") and attach
// structured fields.
package log

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Segment tags used as message prefixes.
const (
	TagCore            = "CORE:"
	TagDataDownload    = "DATA_DOWNLOAD:"
	TagSentinelAPI     = "SENTINEL_API:"
	TagGeometryToolkit = "GEOMETRY_TOOLKIT:"
	TagClustering      = "CLUSTERING:"
	TagOutput          = "OUTPUT:"
	TagCache           = "CACHE:"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Init replaces the global logger with a production (json) or development
// (console) logger at the given level.
func Init(level string, json bool) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger swaps the global logger. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

func Debug(msg string, fields ...zap.Field) {
	logger.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Load().Error(msg, fields...)
}

func Sync() error {
	return logger.Load().Sync()
}
