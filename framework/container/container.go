// Package container управляет жизненным циклом компонентов сервиса.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
)

// Component компонент с жизненным циклом
type Component interface {
	core.Component
	core.Lifecycle
}

// Config конфигурация контейнера
type Config struct {
	ShutdownTimeout time.Duration
}

// Container запускает компоненты в порядке добавления и останавливает в обратном
type Container struct {
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	components []Component
	started    []Component
}

// NewContainer создает новый контейнер
func NewContainer(config *Config, logger *zap.Logger) *Container {
	if config == nil {
		config = &Config{ShutdownTimeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		config: *config,
		logger: logger.Named("container"),
	}
}

// Add добавляет компонент; компоненты с одинаковым именем не допускаются
func (c *Container) Add(components ...Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, component := range components {
		for _, existing := range c.components {
			if existing.Name() == component.Name() {
				return core.Errorf(core.ErrInvalidConfig, "component %s already registered", component.Name())
			}
		}
		c.components = append(c.components, component)
	}
	return nil
}

// Components возвращает имена компонентов в порядке запуска
func (c *Container) Components() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.components))
	for _, component := range c.components {
		names = append(names, component.Name())
	}
	return names
}

// Start запускает компоненты по порядку. Уже запущенные компоненты
// пропускаются, поэтому Start можно вызывать повторно после Add.
// При ошибке запущенные компоненты останавливаются в обратном порядке.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started = c.started[:0]
	for _, component := range c.components {
		if component.IsRunning() {
			c.started = append(c.started, component)
			continue
		}

		c.logger.Info("starting component",
			zap.String("component", component.Name()),
			zap.String("type", string(component.Type())),
		)
		if err := component.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", component.Name(), err)
			if rollbackErr := c.stopStarted(context.Background()); rollbackErr != nil {
				return errors.Join(startErr, rollbackErr)
			}
			return startErr
		}
		c.started = append(c.started, component)
	}
	return nil
}

// Shutdown останавливает запущенные компоненты в обратном порядке.
// Ошибки остановки собираются, остановка продолжается.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}
	return c.stopStarted(ctx)
}

func (c *Container) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(c.started) - 1; i >= 0; i-- {
		component := c.started[i]
		c.logger.Info("stopping component", zap.String("component", component.Name()))
		if err := component.Stop(ctx); err != nil {
			c.logger.Error("failed to stop component",
				zap.String("component", component.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", component.Name(), err))
		}
	}
	c.started = nil
	return errors.Join(errs...)
}
