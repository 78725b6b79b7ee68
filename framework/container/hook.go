package container

import (
	"context"
	"sync"

	"github.com/akriventsev/stocksync/framework/core"
)

// Hook компонент из пары функций запуска и остановки.
// Подходит для подписок потребителей и разовых шагов вроде миграций.
type Hook struct {
	name          string
	componentType core.ComponentType
	start         func(ctx context.Context) error
	stop          func(ctx context.Context) error

	mu      sync.Mutex
	running bool
}

// NewHook создает компонент; start и stop могут быть nil
func NewHook(name string, componentType core.ComponentType, start, stop func(ctx context.Context) error) *Hook {
	return &Hook{
		name:          name,
		componentType: componentType,
		start:         start,
		stop:          stop,
	}
}

// Start вызывает функцию запуска один раз
func (h *Hook) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}
	if h.start != nil {
		if err := h.start(ctx); err != nil {
			return err
		}
	}
	h.running = true
	return nil
}

// Stop вызывает функцию остановки, если компонент запущен
func (h *Hook) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	if h.stop != nil {
		return h.stop(ctx)
	}
	return nil
}

func (h *Hook) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Hook) Name() string             { return h.name }
func (h *Hook) Type() core.ComponentType { return h.componentType }
