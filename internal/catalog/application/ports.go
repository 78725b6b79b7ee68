// Package application содержит команды, запросы и потребители событий catalog-service.
package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/inbox"
	"github.com/akriventsev/stocksync/framework/outbox"
	"github.com/akriventsev/stocksync/internal/catalog/domain"
)

// Tx операции над хранилищем каталога внутри одной транзакции
type Tx interface {
	InsertProduct(ctx context.Context, product *domain.Product) error
	// GetProductForUpdate загружает продукт с блокировкой строки до конца транзакции.
	// Отсутствующий продукт возвращается ошибкой NOT_FOUND.
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product *domain.Product) error

	inbox.ProcessedEvents
	outbox.Writer
}

// Store хранилище каталога
type Store interface {
	inbox.Transactor[Tx]

	// GetProduct возвращает продукт или ошибку NOT_FOUND
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
}

// EventPublisher публикует событие напрямую в брокер
type EventPublisher interface {
	Publish(ctx context.Context, subject string, evt events.Event) error
}
