// Package messagebus предоставляет адаптеры для различных message brokers.
//
// Все адаптеры подтверждают сообщение только после успешного завершения
// обработчика; ошибка обработчика приводит к повторной доставке.
package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	BufferSize int
	// WorkerCount число обработчиков на подписку
	WorkerCount     int
	RedeliveryDelay time.Duration
	// MaxRedeliveries 0 означает бесконечные повторы
	MaxRedeliveries int
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		BufferSize:      1000,
		WorkerCount:     4,
		RedeliveryDelay: 100 * time.Millisecond,
		MaxRedeliveries: 0,
	}
}

// Validate проверяет корректность конфигурации
func (c InMemoryConfig) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.RedeliveryDelay < 0 {
		return fmt.Errorf("redelivery delay cannot be negative")
	}
	if c.MaxRedeliveries < 0 {
		return fmt.Errorf("max redeliveries cannot be negative")
	}
	return nil
}

type inMemorySubscription struct {
	subject string
	handler transport.MessageHandler
	queue   chan *transport.Message
	cancel  context.CancelFunc
}

// InMemoryAdapter реализация MessageBus в памяти с повторной доставкой
type InMemoryAdapter struct {
	config        InMemoryConfig
	logger        *zap.Logger
	subscriptions map[string][]*inMemorySubscription
	mu            sync.RWMutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig, logger *zap.Logger) (*InMemoryAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid inmemory config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryAdapter{
		config:        config,
		logger:        logger.Named("inmemory-bus"),
		subscriptions: make(map[string][]*inMemorySubscription),
		running:       true,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return nil
	}
	i.ctx, i.cancel = context.WithCancel(context.Background())
	i.subscriptions = make(map[string][]*inMemorySubscription)
	i.running = true
	return nil
}

// Stop останавливает адаптер и дожидается завершения обработчиков (реализация core.Lifecycle)
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	i.cancel()
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение во все подписки, совпадающие с subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	i.mu.RLock()
	if !i.running {
		i.mu.RUnlock()
		return fmt.Errorf("inmemory adapter is not running")
	}
	var targets []*inMemorySubscription
	for pattern, subs := range i.subscriptions {
		if matchSubject(subject, pattern) {
			targets = append(targets, subs...)
		}
	}
	i.mu.RUnlock()

	for _, sub := range targets {
		msg := &transport.Message{
			Subject: subject,
			Data:    data,
			Headers: copyHeaders(headers),
			Attempt: 1,
		}
		select {
		case sub.queue <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe подписывается на subject.
// Поддерживаются wildcards в стиле NATS: * (один токен) и > (все оставшиеся токены).
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return fmt.Errorf("inmemory adapter is not running")
	}

	subCtx, cancel := context.WithCancel(i.ctx)
	sub := &inMemorySubscription{
		subject: subject,
		handler: handler,
		queue:   make(chan *transport.Message, i.config.BufferSize),
		cancel:  cancel,
	}
	i.subscriptions[subject] = append(i.subscriptions[subject], sub)

	for w := 0; w < i.config.WorkerCount; w++ {
		i.wg.Add(1)
		go i.worker(subCtx, sub)
	}
	return nil
}

// Unsubscribe отписывается от subject
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, sub := range i.subscriptions[subject] {
		sub.cancel()
	}
	delete(i.subscriptions, subject)
	return nil
}

func (i *InMemoryAdapter) worker(ctx context.Context, sub *inMemorySubscription) {
	defer i.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.queue:
			i.deliver(ctx, sub, msg)
		}
	}
}

func (i *InMemoryAdapter) deliver(ctx context.Context, sub *inMemorySubscription, msg *transport.Message) {
	err := sub.handler(ctx, msg)
	if err == nil {
		return
	}

	if i.config.MaxRedeliveries > 0 && msg.Attempt > i.config.MaxRedeliveries {
		i.logger.Error("message dropped after max redeliveries",
			zap.String("subject", msg.Subject),
			zap.String("event_id", msg.Header(transport.HeaderEventID)),
			zap.Int("attempt", msg.Attempt),
			zap.Error(err),
		)
		return
	}

	i.logger.Debug("message will be redelivered",
		zap.String("subject", msg.Subject),
		zap.Int("attempt", msg.Attempt),
		zap.Duration("delay", i.config.RedeliveryDelay),
		zap.Error(err),
	)

	next := *msg
	next.Attempt = msg.Attempt + 1

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if transport.SleepContext(ctx, i.config.RedeliveryDelay) != nil {
			return
		}
		select {
		case sub.queue <- &next:
		case <-ctx.Done():
		}
	}()
}

// SubscriberCount возвращает количество подписок на subject
func (i *InMemoryAdapter) SubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscriptions[subject])
}

// matchSubject проверяет соответствие subject с wildcard паттерном
func matchSubject(subject, pattern string) bool {
	if subject == pattern {
		return true
	}

	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for idx, part := range patternParts {
		if part == ">" {
			return idx < len(subjectParts)
		}
		if idx >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[idx] {
			return false
		}
	}

	return len(patternParts) == len(subjectParts)
}

func copyHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return map[string]string{}
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return copied
}
