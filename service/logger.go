package service

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the service logger: JSON to the configured file with
// rotation, or to stderr when no path is set.
func NewLogger(conf LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if conf.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(conf.Level)
		if err != nil {
			return nil, err
		}
	}
	if conf.Path == "" {
		c := zap.NewProductionConfig()
		c.Level = zap.NewAtomicLevelAt(level)
		c.Sampling = nil
		return c.Build()
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   conf.Path,
		MaxSize:    100, // MB
		MaxBackups: 5,
	})
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		w,
		level,
	)
	return zap.New(core), nil
}
