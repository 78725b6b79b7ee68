package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	Compression    string // none, gzip, snappy, lz4, zstd
	BatchSize      int
	FlushInterval  time.Duration
	ConsumerConfig KafkaConsumerConfig
	ProducerConfig KafkaProducerConfig
	Retry          RetryConfig
	// DeadLetterSuffix суффикс DLQ топика; сообщение уходит туда, когда Retry.MaxAttempts исчерпан
	DeadLetterSuffix string
}

// KafkaConsumerConfig конфигурация для Kafka consumer
type KafkaConsumerConfig struct {
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset int64 // -2 (earliest), -1 (latest)
}

// KafkaProducerConfig конфигурация для Kafka producer
type KafkaProducerConfig struct {
	RequiredAcks int // 0, 1, -1 (all)
	MaxAttempts  int
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "stocksync",
		Compression:   "snappy",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		ConsumerConfig: KafkaConsumerConfig{
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     time.Second,
			StartOffset: kafka.FirstOffset,
		},
		ProducerConfig: KafkaProducerConfig{
			RequiredAcks: -1, // all
			MaxAttempts:  3,
		},
		Retry:            DefaultRetryConfig(),
		DeadLetterSuffix: ".dlq",
	}
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker[%d] cannot be empty", i)
		}
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka group id is required")
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown kafka compression: %s", c.Compression)
	}
	switch c.ProducerConfig.RequiredAcks {
	case 0, 1, -1:
	default:
		return fmt.Errorf("required acks must be 0, 1 or -1")
	}
	return c.Retry.Validate()
}

// kafkaReader часть kafka.Reader, используемая адаптером
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaWriter часть kafka.Writer, используемая адаптером
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAdapter реализация MessageBus через Kafka.
// Партиция обрабатывается последовательно: сообщение, на котором обработчик
// вернул ошибку, повторяется на месте, пока не будет обработано.
type KafkaAdapter struct {
	config    KafkaConfig
	writer    kafkaWriter
	newReader func(topic string) kafkaReader
	retry     transport.RetryPolicy
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	subs    map[string]context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig, logger *zap.Logger, m *metrics.Metrics) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid kafka config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := &KafkaAdapter{
		config:  config,
		retry:   config.Retry.Policy(),
		logger:  logger.Named("kafka-bus"),
		metrics: m,
		subs:    make(map[string]context.CancelFunc),
	}

	adapter.writer = &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(config.ProducerConfig.RequiredAcks),
		MaxAttempts:            config.ProducerConfig.MaxAttempts,
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.FlushInterval,
		Compression:            getCompression(config.Compression),
		AllowAutoTopicCreation: true,
	}

	adapter.newReader = func(topic string) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       topic,
			GroupID:     config.GroupID,
			MinBytes:    config.ConsumerConfig.MinBytes,
			MaxBytes:    config.ConsumerConfig.MaxBytes,
			MaxWait:     config.ConsumerConfig.MaxWait,
			StartOffset: config.ConsumerConfig.StartOffset,
			// коммит выполняется явно после успешной обработки
			CommitInterval: 0,
		})
	}

	return adapter, nil
}

// getCompression преобразует строку в kafka.Compression
func getCompression(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	return nil
}

// Stop останавливает чтение и закрывает writer (реализация core.Lifecycle)
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	for topic, cancel := range k.subs {
		cancel()
		delete(k.subs, topic)
	}
	k.running = false
	k.mu.Unlock()

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента (реализация core.Component)
func (k *KafkaAdapter) Name() string {
	return "kafka-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (k *KafkaAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в топик. Ключ сообщения равен event-id.
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic:   subject,
		Value:   data,
		Headers: toKafkaHeaders(headers),
	}
	if id, ok := headers[transport.HeaderEventID]; ok {
		msg.Key = []byte(id)
	}

	err := k.writer.WriteMessages(ctx, msg)
	if k.metrics != nil {
		k.metrics.RecordTransport(ctx, "kafka", "publish", err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// Subscribe подписывается на топик в рамках consumer group
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	subCtx, cancel := context.WithCancel(ctx)
	k.subs[subject] = cancel

	reader := k.newReader(subject)
	k.wg.Add(1)
	go k.consume(subCtx, reader, subject, handler)

	k.logger.Info("subscribed", zap.String("topic", subject), zap.String("group_id", k.config.GroupID))
	return nil
}

func (k *KafkaAdapter) consume(ctx context.Context, reader kafkaReader, topic string, handler transport.MessageHandler) {
	defer k.wg.Done()
	defer func() {
		_ = reader.Close()
	}()

	fetchAttempt := 0
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fetchAttempt++
			k.logger.Warn("failed to fetch message", zap.String("topic", topic), zap.Error(err))
			if transport.SleepContext(ctx, k.retry.GetDelay(fetchAttempt)) != nil {
				return
			}
			continue
		}
		fetchAttempt = 0

		if !k.handleInPlace(ctx, topic, msg, handler) {
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			// без коммита сообщение будет доставлено повторно
			k.logger.Warn("failed to commit offset",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// handleInPlace повторяет обработку сообщения до успеха.
// Возвращает false, если контекст завершился раньше.
func (k *KafkaAdapter) handleInPlace(ctx context.Context, topic string, msg kafka.Message, handler transport.MessageHandler) bool {
	for attempt := 1; ; attempt++ {
		tm := fromKafkaMessage(msg, attempt)
		err := handler(ctx, tm)
		if k.metrics != nil {
			k.metrics.RecordTransport(ctx, "kafka", "consume", err == nil)
		}
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		if !k.retry.ShouldRetry(attempt) {
			k.logger.Error("message exhausted retries, sending to dead letter topic",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if dlqErr := k.deadLetter(ctx, tm, err); dlqErr != nil {
				k.logger.Error("failed to publish to dead letter topic", zap.Error(dlqErr))
				if transport.SleepContext(ctx, k.retry.GetDelay(attempt)) != nil {
					return false
				}
				continue
			}
			return true
		}

		delay := k.retry.GetDelay(attempt)
		k.logger.Warn("handler failed, retrying in place",
			zap.String("topic", topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if transport.SleepContext(ctx, delay) != nil {
			return false
		}
	}
}

// deadLetter публикует сообщение в DLQ топик
func (k *KafkaAdapter) deadLetter(ctx context.Context, msg *transport.Message, cause error) error {
	headers := copyHeaders(msg.Headers)
	headers["original-topic"] = msg.Subject
	headers["reason"] = cause.Error()
	headers["dead-lettered-at"] = time.Now().UTC().Format(time.RFC3339)
	return k.Publish(ctx, msg.Subject+k.config.DeadLetterSuffix, msg.Data, headers)
}

// Unsubscribe отписывается от топика
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	cancel, exists := k.subs[subject]
	if !exists {
		return nil
	}
	cancel()
	delete(k.subs, subject)
	return nil
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	result := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		result = append(result, kafka.Header{Key: k, Value: []byte(v)})
	}
	return result
}

func fromKafkaMessage(msg kafka.Message, attempt int) *transport.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &transport.Message{
		Subject: msg.Topic,
		Data:    msg.Value,
		Headers: headers,
		Attempt: attempt,
	}
}
