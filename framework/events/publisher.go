package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
)

// Publisher публикует доменные события через шину сообщений
type Publisher struct {
	publisher transport.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewPublisher создает публикатор событий
func NewPublisher(publisher transport.Publisher, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		publisher: publisher,
		logger:    logger.Named("event-publisher"),
		metrics:   m,
	}
}

// Publish кодирует и публикует событие в subject
func (p *Publisher) Publish(ctx context.Context, subject string, evt Event) error {
	msg, err := NewMessage(ctx, subject, evt)
	if err != nil {
		return err
	}
	return p.PublishMessage(ctx, msg)
}

// PublishMessage публикует уже закодированное событие
func (p *Publisher) PublishMessage(ctx context.Context, msg *transport.Message) error {
	eventType := msg.Header(transport.HeaderEventType)

	err := p.publisher.Publish(ctx, msg.Subject, msg.Data, msg.Headers)
	if p.metrics != nil {
		p.metrics.RecordEventPublished(ctx, eventType, err == nil)
	}
	if err != nil {
		p.logger.Error("failed to publish event",
			zap.String("subject", msg.Subject),
			zap.String("event_type", eventType),
			zap.String("event_id", msg.Header(transport.HeaderEventID)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, msg.Subject, err)
	}

	p.logger.Debug("event published",
		zap.String("subject", msg.Subject),
		zap.String("event_type", eventType),
		zap.String("event_id", msg.Header(transport.HeaderEventID)),
	)
	return nil
}
