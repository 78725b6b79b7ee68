package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/inbox"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
	"github.com/akriventsev/stocksync/internal/contracts"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// ProductCreatedConsumer синхронизирует read model по событию ProductCreated.
// Ключом идемпотентности служит productId: существующая запись означает,
// что событие уже обработано.
type ProductCreatedConsumer struct {
	processor *inbox.Processor[ReadModelTx]
	handler   events.Handler[contracts.ProductCreated]
	logger    *zap.Logger
}

// NewProductCreatedConsumer создает потребителя
func NewProductCreatedConsumer(readModels ReadModelStore, logger *zap.Logger, m *metrics.Metrics) *ProductCreatedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("product-created-consumer")

	c := &ProductCreatedConsumer{
		processor: inbox.NewProcessor[ReadModelTx](
			contracts.ProductCreatedSubject,
			readModels,
			inbox.ExistenceLedger[ReadModelTx]{Exists: readModelExists},
			logger,
			inbox.WithMetrics[ReadModelTx](m),
		),
		logger: logger,
	}
	c.handler = inbox.KeyedHandler(c.processor, productKey, c.apply)
	return c
}

func productKey(evt contracts.ProductCreated) string {
	return evt.ProductID.String()
}

func readModelExists(ctx context.Context, tx ReadModelTx, key string) (bool, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return false, core.Wrap(err, core.ErrValidationFailed, "product id is not a UUID")
	}
	return tx.ReadModelExists(ctx, id)
}

// Subscribe подписывает потребителя на product-created
func (c *ProductCreatedConsumer) Subscribe(ctx context.Context, subscriber transport.Subscriber) error {
	return events.Subscribe[contracts.ProductCreated](ctx, subscriber, contracts.ProductCreatedSubject, c.Handle, c.logger)
}

// Handle обрабатывает событие. Ошибка означает, что сообщение нужно доставить повторно.
func (c *ProductCreatedConsumer) Handle(ctx context.Context, evt contracts.ProductCreated) error {
	c.logger.Info("received event",
		zap.String("event_id", evt.EventID()),
		zap.String("product_id", evt.ProductID.String()),
		zap.String("name", evt.Name),
	)

	err := c.handler(ctx, evt)
	if core.IsCode(err, core.ErrValidationFailed) {
		c.logger.Error("dropping invalid product event",
			zap.String("event_id", evt.EventID()),
			zap.String("product_id", evt.ProductID.String()),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (c *ProductCreatedConsumer) apply(ctx context.Context, tx ReadModelTx, evt contracts.ProductCreated) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("messaging.event_id", evt.EventID()),
		attribute.String("messaging.product_id", evt.ProductID.String()),
		attribute.String("messaging.product_name", evt.Name),
	)

	model, err := domain.NewProductReadModel(evt.ProductID, evt.Name)
	if err != nil {
		return err
	}
	if err := tx.InsertReadModel(ctx, model); err != nil {
		return err
	}

	span.SetAttributes(attribute.String("product.synced_at", model.SyncedAt().Format(time.RFC3339Nano)))
	c.logger.Info("product synced to read model", zap.String("product_id", model.ProductID().String()))
	return nil
}
