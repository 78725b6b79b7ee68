package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// RedisConfig конфигурация для Redis Streams адаптера
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	// StreamMaxLen приблизительная максимальная длина stream (0 = без обрезки).
	// Обрезка удаляет и записи, еще не подтвержденные группой потребителей.
	StreamMaxLen  int64
	StreamPrefix  string
	ConsumerGroup string
	BlockTimeout  time.Duration
	BatchSize     int64
	// ClaimMinIdle время, после которого неподтвержденное сообщение забирается повторно
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  0,
		StreamPrefix:  "stocksync:",
		ConsumerGroup: "stocksync",
		BlockTimeout:  5 * time.Second,
		BatchSize:     10,
		ClaimMinIdle:  30 * time.Second,
		ClaimInterval: 5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer group cannot be empty")
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("block timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.ClaimMinIdle <= 0 || c.ClaimInterval <= 0 {
		return fmt.Errorf("claim min idle and claim interval must be positive")
	}
	return nil
}

// RedisAdapter реализация MessageBus через Redis Streams.
// Сообщения читаются через XREADGROUP и подтверждаются XACK только после успешной
// обработки. Неподтвержденные сообщения забираются повторно через XAUTOCLAIM.
type RedisAdapter struct {
	config   RedisConfig
	client   *redis.Client
	consumer string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	subs    map[string]context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewRedisAdapter создает новый Redis адаптер
func NewRedisAdapter(config RedisConfig, logger *zap.Logger, m *metrics.Metrics) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid redis config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	})

	return &RedisAdapter{
		config:   config,
		client:   client,
		consumer: "consumer-" + uuid.NewString(),
		logger:   logger.Named("redis-bus"),
		metrics:  m,
		subs:     make(map[string]context.CancelFunc),
	}, nil
}

// Start проверяет подключение (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r.running = true
	return nil
}

// Stop останавливает чтение и закрывает клиент (реализация core.Lifecycle)
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	for stream, cancel := range r.subs {
		cancel()
		delete(r.subs, stream)
	}
	r.running = false
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.client.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Client возвращает Redis клиент
func (r *RedisAdapter) Client() *redis.Client {
	return r.client
}

func (r *RedisAdapter) xaddArgs(subject string, values map[string]interface{}) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: r.streamName(subject),
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}
	return args
}

// Publish публикует сообщение в stream (XADD)
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	values, err := encodeStreamValues(data, headers)
	if err != nil {
		return err
	}

	err = r.client.XAdd(ctx, r.xaddArgs(subject, values)).Err()
	if r.metrics != nil {
		r.metrics.RecordTransport(ctx, "redis", "publish", err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// Subscribe подписывается на stream в consumer group
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	stream := r.streamName(subject)

	err := r.client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[stream]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}
	subCtx, cancel := context.WithCancel(ctx)
	r.subs[stream] = cancel

	r.wg.Add(1)
	go r.consume(subCtx, stream, subject, handler)

	r.logger.Info("subscribed",
		zap.String("stream", stream),
		zap.String("group", r.config.ConsumerGroup),
		zap.String("consumer", r.consumer),
	)
	return nil
}

func (r *RedisAdapter) consume(ctx context.Context, stream, subject string, handler transport.MessageHandler) {
	defer r.wg.Done()

	lastClaim := time.Time{}
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= r.config.ClaimInterval {
			r.reclaim(ctx, stream, subject, handler)
			lastClaim = time.Now()
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.config.ConsumerGroup,
			Consumer: r.consumer,
			Streams:  []string{stream, ">"},
			Count:    r.config.BatchSize,
			Block:    r.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Warn("failed to read from stream", zap.String("stream", stream), zap.Error(err))
			_ = transport.SleepContext(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				r.handle(ctx, stream, subject, msg, 1, handler)
			}
		}
	}
}

// reclaim забирает сообщения, зависшие в pending дольше ClaimMinIdle
func (r *RedisAdapter) reclaim(ctx context.Context, stream, subject string, handler transport.MessageHandler) {
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    r.config.ConsumerGroup,
			Consumer: r.consumer,
			MinIdle:  r.config.ClaimMinIdle,
			Start:    start,
			Count:    r.config.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("failed to claim pending messages", zap.String("stream", stream), zap.Error(err))
			}
			return
		}

		for _, msg := range messages {
			r.handle(ctx, stream, subject, msg, r.deliveryCount(ctx, stream, msg.ID), handler)
		}

		if next == "0-0" || len(messages) == 0 {
			return
		}
		start = next
	}
}

func (r *RedisAdapter) deliveryCount(ctx context.Context, stream, id string) int {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  r.config.ConsumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 2
	}
	return int(pending[0].RetryCount)
}

func (r *RedisAdapter) handle(ctx context.Context, stream, subject string, msg redis.XMessage, attempt int, handler transport.MessageHandler) {
	data, headers, err := decodeStreamValues(msg.Values)
	if err != nil {
		// повторная доставка не исправит формат записи
		r.logger.Error("dropping malformed stream entry", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
		_ = r.client.XAck(ctx, stream, r.config.ConsumerGroup, msg.ID).Err()
		return
	}

	err = handler(ctx, &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: headers,
		Attempt: attempt,
	})
	if r.metrics != nil {
		r.metrics.RecordTransport(ctx, "redis", "consume", err == nil)
	}
	if err != nil {
		r.logger.Warn("handler failed, message stays pending",
			zap.String("stream", stream),
			zap.String("id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return
	}

	if err := r.client.XAck(ctx, stream, r.config.ConsumerGroup, msg.ID).Err(); err != nil {
		r.logger.Warn("failed to ack message", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
	}
}

// Unsubscribe останавливает чтение stream
func (r *RedisAdapter) Unsubscribe(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := r.streamName(subject)
	if cancel, ok := r.subs[stream]; ok {
		cancel()
		delete(r.subs, stream)
	}
	return nil
}

func (r *RedisAdapter) streamName(subject string) string {
	return r.config.StreamPrefix + subject
}

func encodeStreamValues(data []byte, headers map[string]string) (map[string]interface{}, error) {
	values := map[string]interface{}{"data": string(data)}
	if len(headers) > 0 {
		encoded, err := json.Marshal(headers)
		if err != nil {
			return nil, fmt.Errorf("failed to encode headers: %w", err)
		}
		values["headers"] = string(encoded)
	}
	return values, nil
}

func decodeStreamValues(values map[string]interface{}) ([]byte, map[string]string, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("stream entry has no data field")
	}
	headers := make(map[string]string)
	if encoded, ok := values["headers"].(string); ok {
		if err := json.Unmarshal([]byte(encoded), &headers); err != nil {
			return nil, nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	return []byte(raw), headers, nil
}
