package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Subsystem names passed to Logger.Component.
const (
	ComponentBrowser  = "browser"
	ComponentPrefetch = "prefetch"
	ComponentHeaders  = "headers"
	ComponentNetwork  = "network"
	ComponentLooper   = "looper"
	ComponentAPI      = "api"
)

// Logger is the host's root logger.
type Logger struct {
	*zap.Logger
}

// Config selects level, format and sinks. Empty Level means info; empty
// OutputPaths means stdout.
type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

// New builds a JSON logger, or a colored console logger when
// cfg.Development is set.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
		zc.DisableStacktrace = true
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.NameKey = "component"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l}, nil
}

// NewOrNop is New that discards output instead of failing.
func NewOrNop(cfg Config) *Logger {
	l, err := New(cfg)
	if err != nil {
		return Nop()
	}
	return l
}

func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Component returns the child logger for one subsystem.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}
