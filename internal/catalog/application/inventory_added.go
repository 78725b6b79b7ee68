package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/inbox"
	"github.com/akriventsev/stocksync/framework/metrics"
	"github.com/akriventsev/stocksync/framework/transport"
	"github.com/akriventsev/stocksync/internal/contracts"
)

// InventoryAddedConsumer увеличивает остаток продукта по событию ProductInventoryAdded.
// Каждое событие применяется не более одного раза благодаря таблице processed_events.
type InventoryAddedConsumer struct {
	processor *inbox.Processor[Tx]
	logger    *zap.Logger
}

// NewInventoryAddedConsumer создает потребителя
func NewInventoryAddedConsumer(store Store, logger *zap.Logger, m *metrics.Metrics) *InventoryAddedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("inventory-added-consumer")

	return &InventoryAddedConsumer{
		processor: inbox.NewProcessor[Tx](
			contracts.ProductInventoryAddedSubject,
			store,
			inbox.ProcessedEventsLedger[Tx]{},
			logger,
			inbox.WithMetrics[Tx](m),
		),
		logger: logger,
	}
}

// Subscribe подписывает потребителя на product-inventory-added
func (c *InventoryAddedConsumer) Subscribe(ctx context.Context, subscriber transport.Subscriber) error {
	return events.Subscribe[contracts.ProductInventoryAdded](ctx, subscriber, contracts.ProductInventoryAddedSubject, c.Handle, c.logger)
}

// Handle обрабатывает событие. Ошибка означает, что сообщение нужно доставить повторно.
func (c *InventoryAddedConsumer) Handle(ctx context.Context, evt contracts.ProductInventoryAdded) error {
	c.logger.Info("received event",
		zap.String("event_id", evt.EventID()),
		zap.String("product_id", evt.ProductID.String()),
		zap.Int("quantity", evt.Quantity),
	)

	_, err := c.processor.Process(ctx, evt.EventID(), func(ctx context.Context, tx Tx) error {
		return c.apply(ctx, tx, evt)
	})
	if core.IsCode(err, core.ErrValidationFailed) {
		// некорректное количество не исправится при повторной доставке
		c.logger.Error("dropping event with invalid quantity",
			zap.String("event_id", evt.EventID()),
			zap.Int("quantity", evt.Quantity),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (c *InventoryAddedConsumer) apply(ctx context.Context, tx Tx, evt contracts.ProductInventoryAdded) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("messaging.product_id", evt.ProductID.String()),
		attribute.Int("messaging.quantity", evt.Quantity),
	)

	product, err := tx.GetProductForUpdate(ctx, evt.ProductID)
	if err != nil {
		if core.IsCode(err, core.ErrNotFound) {
			c.logger.Warn("product not found for event",
				zap.String("product_id", evt.ProductID.String()),
				zap.String("event_id", evt.EventID()),
			)
		}
		return err
	}

	oldAmount := product.StockAmount()
	if err := product.IncrementStockAmount(evt.Quantity); err != nil {
		return err
	}
	if err := tx.UpdateProduct(ctx, product); err != nil {
		return err
	}

	span.SetAttributes(
		attribute.Int("product.old_amount", oldAmount),
		attribute.Int("product.new_amount", product.StockAmount()),
	)
	c.logger.Info("product stock amount updated",
		zap.String("event_id", evt.EventID()),
		zap.String("product_id", product.ID().String()),
		zap.Int("amount", product.StockAmount()),
	)
	return nil
}
