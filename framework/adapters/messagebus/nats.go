package messagebus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// NATSConfig конфигурация для NATS JetStream адаптера
type NATSConfig struct {
	URL               string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	TLS               *tls.Config
	Token             string
	Username          string
	Password          string
	// StreamPrefix префикс имени JetStream stream, создаваемого на каждый subject
	StreamPrefix string
	// Durable имя durable consumer; подписчики с одним именем делят сообщения
	Durable string
	AckWait time.Duration
	Retry   RetryConfig
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		StreamPrefix:      "STOCKSYNC",
		Durable:           "stocksync",
		AckWait:           30 * time.Second,
		Retry:             DefaultRetryConfig(),
	}
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	if c.Durable == "" {
		return fmt.Errorf("durable consumer name is required")
	}
	if strings.ContainsAny(c.Durable, ".*> ") {
		return fmt.Errorf("durable name must not contain '.', '*', '>' or spaces")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack wait must be positive")
	}
	return c.Retry.Validate()
}

// NATSAdapter реализация MessageBus через NATS JetStream.
// Сообщение подтверждается Ack после успешной обработки, при ошибке
// возвращается Nak с задержкой из политики повторов.
type NATSAdapter struct {
	config  NATSConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	retry   transport.RetryPolicy

	conn    *nats.Conn
	js      nats.JetStreamContext
	subs    map[string]*nats.Subscription
	streams map[string]struct{}
	mu      sync.RWMutex
	running bool
}

// NewNATSAdapter создает новый NATS адаптер; подключение выполняется в Start
func NewNATSAdapter(config NATSConfig, logger *zap.Logger, m *metrics.Metrics) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid nats config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSAdapter{
		config:  config,
		logger:  logger.Named("nats-bus"),
		metrics: m,
		retry:   config.Retry.Policy(),
		subs:    make(map[string]*nats.Subscription),
		streams: make(map[string]struct{}),
	}, nil
}

// Start подключается к NATS и открывает JetStream контекст (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(n.config.ConnectionTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("disconnected from nats", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if n.config.TLS != nil {
		opts = append(opts, nats.Secure(n.config.TLS))
	}
	if n.config.Token != "" {
		opts = append(opts, nats.Token(n.config.Token))
	}
	if n.config.Username != "" && n.config.Password != "" {
		opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.MaxWait(n.config.ConnectionTimeout))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open jetstream context: %w", err)
	}

	n.conn = conn
	n.js = js
	n.running = true
	n.logger.Info("connected to nats", zap.String("url", n.config.URL))
	return nil
}

// Stop отписывается и закрывает соединение (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	for subject, sub := range n.subs {
		// durable consumer сохраняется на сервере, поэтому Drain, а не Unsubscribe
		if err := sub.Drain(); err != nil {
			n.logger.Warn("failed to drain subscription", zap.String("subject", subject), zap.Error(err))
		}
		delete(n.subs, subject)
	}

	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}

	n.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в JetStream и ждет подтверждения записи.
// Заголовок event-id используется как Nats-Msg-Id для дедупликации на сервере.
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	js, err := n.jetStream()
	if err != nil {
		return err
	}
	if err := n.ensureStream(subject); err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if id := headers[transport.HeaderEventID]; id != "" {
		opts = append(opts, nats.MsgId(id))
	}

	_, err = js.PublishMsg(msg, opts...)
	if n.metrics != nil {
		n.metrics.RecordTransport(ctx, "nats", "publish", err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// Subscribe создает durable consumer на subject
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	js, err := n.jetStream()
	if err != nil {
		return err
	}
	if err := n.ensureStream(subject); err != nil {
		return err
	}

	durable := n.config.Durable + "-" + sanitizeName(subject, "-")

	sub, err := js.QueueSubscribe(subject, durable, func(msg *nats.Msg) {
		n.handle(ctx, msg, handler)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(n.config.AckWait),
		nats.DeliverAll(),
		nats.BindStream(n.streamName(subject)),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	n.mu.Lock()
	n.subs[subject] = sub
	n.mu.Unlock()

	n.logger.Info("subscribed", zap.String("subject", subject), zap.String("durable", durable))
	return nil
}

func (n *NATSAdapter) handle(ctx context.Context, msg *nats.Msg, handler transport.MessageHandler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	tm := &transport.Message{
		Subject: msg.Subject,
		Data:    msg.Data,
		Headers: make(map[string]string, len(msg.Header)),
		Attempt: attempt,
	}
	for k := range msg.Header {
		tm.Headers[strings.ToLower(k)] = msg.Header.Get(k)
	}

	err := handler(ctx, tm)
	if n.metrics != nil {
		n.metrics.RecordTransport(ctx, "nats", "consume", err == nil)
	}

	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			n.logger.Warn("failed to ack message", zap.String("subject", msg.Subject), zap.Error(ackErr))
		}
		return
	}

	delay := n.retry.GetDelay(attempt)
	n.logger.Warn("handler failed, message will be redelivered",
		zap.String("subject", msg.Subject),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		n.logger.Warn("failed to nak message", zap.String("subject", msg.Subject), zap.Error(nakErr))
	}
}

// Unsubscribe отписывается от subject, durable consumer остается на сервере
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subs[subject]
	if !exists {
		return nil
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	delete(n.subs, subject)
	return nil
}

// Conn возвращает NATS соединение
func (n *NATSAdapter) Conn() *nats.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn
}

func (n *NATSAdapter) jetStream() (nats.JetStreamContext, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.running || n.js == nil {
		return nil, ErrNATSNotConnected
	}
	return n.js, nil
}

// ensureStream создает stream для subject, если его еще нет
func (n *NATSAdapter) ensureStream(subject string) error {
	name := n.streamName(subject)

	n.mu.RLock()
	_, known := n.streams[name]
	js := n.js
	n.mu.RUnlock()
	if known {
		return nil
	}

	if _, err := js.StreamInfo(name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to lookup stream %s: %w", name, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
			Storage:  nats.FileStorage,
		})
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}
		n.logger.Info("stream created", zap.String("stream", name), zap.String("subject", subject))
	}

	n.mu.Lock()
	n.streams[name] = struct{}{}
	n.mu.Unlock()
	return nil
}

func (n *NATSAdapter) streamName(subject string) string {
	return strings.ToUpper(n.config.StreamPrefix + "_" + sanitizeName(subject, "_"))
}

// sanitizeName заменяет символы, недопустимые в именах stream и consumer
func sanitizeName(subject, sep string) string {
	return strings.NewReplacer(".", sep, "*", "all", ">", "rest", " ", sep, "-", sep).Replace(subject)
}

// ErrNATSNotConnected адаптер не запущен
var ErrNATSNotConnected = errors.New("nats: adapter is not connected")
