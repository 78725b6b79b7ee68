package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/internal/catalog/domain"
)

// ProductQueries запросы чтения каталога
type ProductQueries struct {
	store Store
}

// NewProductQueries создает запросы поверх хранилища
func NewProductQueries(store Store) *ProductQueries {
	return &ProductQueries{store: store}
}

// GetProduct возвращает продукт или ошибку NOT_FOUND
func (q *ProductQueries) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return q.store.GetProduct(ctx, id)
}

// ListProducts возвращает все продукты в порядке создания
func (q *ProductQueries) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	return q.store.ListProducts(ctx)
}
