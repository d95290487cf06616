package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger
func InitLogger(env string) error {
	var err error
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err = config.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// CronLogger adapts a zap logger to the cron.Logger interface
type CronLogger struct {
	log *zap.SugaredLogger
}

// NewCronLogger wraps l for use with cron.WithLogger
func NewCronLogger(l *zap.Logger) CronLogger {
	return CronLogger{log: l.Sugar()}
}

// Info logs routine scheduler messages at debug level
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

// Error logs scheduler errors
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
