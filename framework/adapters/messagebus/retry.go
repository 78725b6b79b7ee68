package messagebus

import (
	"fmt"
	"time"

	"github.com/akriventsev/stocksync/framework/transport"
)

// RetryConfig задержки повторной доставки после ошибки обработчика
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts 0 означает бесконечные повторы
	MaxAttempts int
}

// DefaultRetryConfig возвращает конфигурацию повторов по умолчанию
func DefaultRetryConfig() RetryConfig {
	p := transport.DefaultRetryPolicy()
	return RetryConfig{
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.Multiplier,
		MaxAttempts:  p.MaxAttempts,
	}
}

// Validate проверяет корректность конфигурации
func (c RetryConfig) Validate() error {
	if c.InitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry max delay must be >= initial delay")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts cannot be negative")
	}
	return nil
}

// Policy возвращает политику повторов
func (c RetryConfig) Policy() transport.RetryPolicy {
	return &transport.ExponentialBackoffRetryPolicy{
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		MaxAttempts:  c.MaxAttempts,
	}
}
