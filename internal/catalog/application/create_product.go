package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/catalog/domain"
	"github.com/akriventsev/stocksync/internal/contracts"
)

// CreateProduct команда создания продукта
type CreateProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CommandName возвращает имя команды
func (CreateProduct) CommandName() string {
	return "CreateProduct"
}

// CreateProductHandler сохраняет продукт и публикует ProductCreated
type CreateProductHandler struct {
	store     Store
	publisher EventPublisher
	logger    *zap.Logger
}

// NewCreateProductHandler создает обработчик.
// При publisher == nil событие пишется в outbox в транзакции продукта,
// иначе публикуется напрямую после коммита.
func NewCreateProductHandler(store Store, publisher EventPublisher, logger *zap.Logger) *CreateProductHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateProductHandler{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("create-product"),
	}
}

// Handle создает продукт и возвращает его идентификатор
func (h *CreateProductHandler) Handle(ctx context.Context, cmd CreateProduct) (uuid.UUID, error) {
	product, err := domain.NewProduct(cmd.Name, cmd.Description, cmd.Price)
	if err != nil {
		return uuid.Nil, err
	}

	evt := contracts.NewProductCreated(product.ID(), product.Name())

	err = h.store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if h.publisher != nil {
			return nil
		}

		record, err := outbox.NewRecord(ctx, contracts.ProductCreatedSubject, evt)
		if err != nil {
			return err
		}
		return tx.Append(ctx, record)
	})
	if err != nil {
		return uuid.Nil, err
	}

	h.logger.Info("product created",
		zap.String("product_id", product.ID().String()),
		zap.String("event_id", evt.EventID()),
	)

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, contracts.ProductCreatedSubject, evt); err != nil {
			return uuid.Nil, fmt.Errorf("product %s created but %s was not published: %w", product.ID(), evt.EventType(), err)
		}
	}

	return product.ID(), nil
}
