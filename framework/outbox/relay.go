package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// RelayConfig конфигурация relay
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// Validate проверяет корректность конфигурации
func (c RelayConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox poll interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be positive")
	}
	return nil
}

// Relay периодически публикует неопубликованные записи outbox
type Relay struct {
	config    RelayConfig
	store     Store
	publisher transport.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	flushMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRelay создает relay
func NewRelay(config RelayConfig, store Store, publisher transport.Publisher, logger *zap.Logger, m *metrics.Metrics) (*Relay, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid outbox relay config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		config:    config,
		store:     store,
		publisher: publisher,
		logger:    logger.Named("outbox-relay"),
		metrics:   m,
	}, nil
}

// Flush публикует одну пачку записей и возвращает число опубликованных.
// Запись, которую не удалось опубликовать, остается в outbox и повторяется на следующем проходе.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	records, err := r.store.FetchPending(ctx, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending outbox records: %w", err)
	}

	published, failed := 0, 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			break
		}

		msg := record.Message()
		if err := r.publisher.Publish(ctx, msg.Subject, msg.Data, msg.Headers); err != nil {
			failed++
			r.logger.Warn("failed to publish outbox record",
				zap.String("event_id", record.ID),
				zap.String("destination", record.Destination),
				zap.Error(err),
			)
			continue
		}

		if err := r.store.MarkPublished(ctx, record.ID, events.Now()); err != nil {
			// сообщение будет опубликовано повторно, потребители дедуплицируют по event id
			failed++
			r.logger.Error("failed to mark outbox record published",
				zap.String("event_id", record.ID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if r.metrics != nil && (published > 0 || failed > 0) {
		r.metrics.RecordOutbox(ctx, published, failed)
	}
	if published > 0 {
		r.logger.Debug("outbox flushed", zap.Int("published", published), zap.Int("failed", failed))
	}
	return published, nil
}

// Start запускает фоновый цикл публикации (lifecycle)
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("outbox relay already running")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(loopCtx, r.done)

	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Int("batch_size", r.config.BatchSize),
	)
	return nil
}

func (r *Relay) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		// выгружаем, пока пачки заполнены
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				r.logger.Error("outbox flush failed", zap.Error(err))
				break
			}
			if n < r.config.BatchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop останавливает relay и дожидается завершения текущего прохода
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("outbox relay stopped")
	return nil
}

// IsRunning проверяет статус
func (r *Relay) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Name возвращает имя компонента
func (r *Relay) Name() string {
	return "outbox-relay"
}

// Type возвращает тип компонента
func (r *Relay) Type() core.ComponentType {
	return core.ComponentTypeWorker
}
