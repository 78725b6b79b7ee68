// Package application содержит команды, запросы и потребители событий stock-service.
package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/inbox"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

// Tx операции над хранилищем поступлений внутри одной транзакции
type Tx interface {
	InsertInventory(ctx context.Context, inventory *domain.Inventory) error

	outbox.Writer
}

// Store хранилище поступлений
type Store interface {
	inbox.Transactor[Tx]

	// ListInventory возвращает поступления продукта в порядке добавления
	ListInventory(ctx context.Context, productID uuid.UUID) ([]*domain.Inventory, error)
}

// ReadModelTx операции над read model продуктов внутри единицы работы
type ReadModelTx interface {
	ReadModelExists(ctx context.Context, productID uuid.UUID) (bool, error)
	// InsertReadModel вставляет запись. Существующий productId возвращается
	// ошибкой ALREADY_PROCESSED.
	InsertReadModel(ctx context.Context, model *domain.ProductReadModel) error
}

// ProductChecker проверяет, известен ли продукт stock-service
type ProductChecker interface {
	Exists(ctx context.Context, productID uuid.UUID) (bool, error)
}

// ReadModelStore хранилище read model продуктов каталога
type ReadModelStore interface {
	inbox.Transactor[ReadModelTx]
	ProductChecker

	// GetReadModel возвращает запись или ошибку NOT_FOUND
	GetReadModel(ctx context.Context, productID uuid.UUID) (*domain.ProductReadModel, error)
}

// EventPublisher публикует событие напрямую в брокер
type EventPublisher interface {
	Publish(ctx context.Context, subject string, evt events.Event) error
}
