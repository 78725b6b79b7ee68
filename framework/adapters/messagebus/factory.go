package messagebus

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// Типы брокеров
const (
	TypeNATS     = "nats"
	TypeKafka    = "kafka"
	TypeRedis    = "redis"
	TypeRabbitMQ = "rabbitmq"
	TypeInMemory = "inmemory"
)

// Bus адаптер брокера с жизненным циклом
type Bus interface {
	transport.MessageBus
	core.Component
	core.Lifecycle
}

// Creator создает адаптер из конфигурации
type Creator func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error)

// Factory фабрика адаптеров брокеров
type Factory struct {
	creators map[string]Creator
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mu       sync.RWMutex
}

// NewFactory создает фабрику со встроенными адаптерами
func NewFactory(logger *zap.Logger, m *metrics.Metrics) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := &Factory{
		creators: make(map[string]Creator),
		logger:   logger,
		metrics:  m,
	}

	_ = factory.Register(TypeNATS, func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error) {
		cfg, ok := config.(NATSConfig)
		if !ok {
			return nil, fmt.Errorf("invalid NATS config type: %T", config)
		}
		return NewNATSAdapter(cfg, logger, m)
	})

	_ = factory.Register(TypeKafka, func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error) {
		cfg, ok := config.(KafkaConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Kafka config type: %T", config)
		}
		return NewKafkaAdapter(cfg, logger, m)
	})

	_ = factory.Register(TypeRedis, func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error) {
		cfg, ok := config.(RedisConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Redis config type: %T", config)
		}
		return NewRedisAdapter(cfg, logger, m)
	})

	_ = factory.Register(TypeRabbitMQ, func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error) {
		cfg, ok := config.(RabbitMQConfig)
		if !ok {
			return nil, fmt.Errorf("invalid RabbitMQ config type: %T", config)
		}
		return NewRabbitMQAdapter(cfg, logger, m)
	})

	_ = factory.Register(TypeInMemory, func(config interface{}, logger *zap.Logger, m *metrics.Metrics) (Bus, error) {
		cfg := DefaultInMemoryConfig()
		if config != nil {
			c, ok := config.(InMemoryConfig)
			if !ok {
				return nil, fmt.Errorf("invalid InMemory config type: %T", config)
			}
			cfg = c
		}
		return NewInMemoryAdapter(cfg, logger)
	})

	return factory
}

// Create создает адаптер указанного типа
func (f *Factory) Create(busType string, config interface{}) (Bus, error) {
	f.mu.RLock()
	creator, exists := f.creators[busType]
	f.mu.RUnlock()

	if !exists {
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown message bus type: %s", busType)
	}

	adapter, err := creator(config, f.logger, f.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", busType, err)
	}
	return adapter, nil
}

// Register регистрирует адаптер
func (f *Factory) Register(name string, creator Creator) error {
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if creator == nil {
		return fmt.Errorf("creator function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}
	f.creators[name] = creator
	return nil
}

// Unregister удаляет регистрацию адаптера
func (f *Factory) Unregister(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; !exists {
		return fmt.Errorf("adapter %s not registered", name)
	}
	delete(f.creators, name)
	return nil
}

// ListRegistered возвращает отсортированный список зарегистрированных адаптеров
func (f *Factory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
