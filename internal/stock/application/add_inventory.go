package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/contracts"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// AddInventory команда добавления поступления
type AddInventory struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedBy   string    `json:"addedBy"`
}

// CommandName возвращает имя команды
func (AddInventory) CommandName() string {
	return "AddInventory"
}

// AddInventoryHandler сохраняет поступление и публикует ProductInventoryAdded
type AddInventoryHandler struct {
	store     Store
	products  ProductChecker
	publisher EventPublisher
	logger    *zap.Logger
}

// NewAddInventoryHandler создает обработчик. Продукт проверяется только по
// локальной read model. При publisher == nil событие пишется в outbox.
func NewAddInventoryHandler(store Store, products ProductChecker, publisher EventPublisher, logger *zap.Logger) *AddInventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddInventoryHandler{
		store:     store,
		products:  products,
		publisher: publisher,
		logger:    logger.Named("add-inventory"),
	}
}

func (h *AddInventoryHandler) validate(ctx context.Context, cmd AddInventory) error {
	if cmd.Quantity <= 0 {
		return core.NewError(core.ErrValidationFailed, "Quantity must be greater than 0")
	}

	exists, err := h.products.Exists(ctx, cmd.ProductID)
	if err != nil {
		return err
	}
	if !exists {
		return core.Errorf(core.ErrValidationFailed, "product %s not found", cmd.ProductID)
	}
	return nil
}

// Handle добавляет поступление и возвращает его идентификатор
func (h *AddInventoryHandler) Handle(ctx context.Context, cmd AddInventory) (uuid.UUID, error) {
	if err := h.validate(ctx, cmd); err != nil {
		return uuid.Nil, err
	}

	inventory, err := domain.NewInventory(cmd.ProductID, cmd.Quantity, cmd.AddedBy)
	if err != nil {
		return uuid.Nil, err
	}

	evt := contracts.NewProductInventoryAdded(inventory.ProductID(), inventory.Quantity())

	err = h.store.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertInventory(ctx, inventory); err != nil {
			return err
		}
		if h.publisher != nil {
			return nil
		}

		record, err := outbox.NewRecord(ctx, contracts.ProductInventoryAddedSubject, evt)
		if err != nil {
			return err
		}
		return tx.Append(ctx, record)
	})
	if err != nil {
		return uuid.Nil, err
	}

	h.logger.Info("inventory added",
		zap.String("inventory_id", inventory.ID().String()),
		zap.String("product_id", inventory.ProductID().String()),
		zap.Int("quantity", inventory.Quantity()),
		zap.String("event_id", evt.EventID()),
	)

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, contracts.ProductInventoryAddedSubject, evt); err != nil {
			return uuid.Nil, fmt.Errorf("inventory %s added but %s was not published: %w", inventory.ID(), evt.EventType(), err)
		}
	}

	return inventory.ID(), nil
}
