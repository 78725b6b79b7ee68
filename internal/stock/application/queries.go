package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// StockQueries запросы чтения stock-service
type StockQueries struct {
	store      Store
	readModels ReadModelStore
}

// NewStockQueries создает запросы
func NewStockQueries(store Store, readModels ReadModelStore) *StockQueries {
	return &StockQueries{store: store, readModels: readModels}
}

// ListInventory возвращает поступления продукта
func (q *StockQueries) ListInventory(ctx context.Context, productID uuid.UUID) ([]*domain.Inventory, error) {
	return q.store.ListInventory(ctx, productID)
}

// GetReadModel возвращает запись read model или ошибку NOT_FOUND
func (q *StockQueries) GetReadModel(ctx context.Context, productID uuid.UUID) (*domain.ProductReadModel, error) {
	return q.readModels.GetReadModel(ctx, productID)
}
