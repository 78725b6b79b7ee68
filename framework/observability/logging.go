package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	ServiceName string
}

// DefaultLogConfig возвращает конфигурацию логгера по умолчанию
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// Validate проверяет корректность конфигурации
func (c LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Format)
	}
	return nil
}

// NewLogger создает zap логгер с полем service.name
func NewLogger(config LogConfig) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	level, _ := zapcore.ParseLevel(config.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)

	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if config.ServiceName != "" {
		options = append(options, zap.Fields(zap.String("service.name", config.ServiceName)))
	}

	return zap.New(core, options...), nil
}
