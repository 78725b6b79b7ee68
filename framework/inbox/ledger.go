package inbox

import (
	"context"
	"time"
)

// ProcessedEvents транзакция, хранящая таблицу обработанных событий
type ProcessedEvents interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
}

// ProcessedEventsLedger ledger поверх таблицы processed_events транзакции
type ProcessedEventsLedger[T ProcessedEvents] struct{}

// Seen проверяет наличие события в таблице
func (ProcessedEventsLedger[T]) Seen(ctx context.Context, tx T, key string) (bool, error) {
	return tx.IsProcessed(ctx, key)
}

// Record вставляет событие в таблицу
func (ProcessedEventsLedger[T]) Record(ctx context.Context, tx T, key string, at time.Time) error {
	return tx.MarkProcessed(ctx, key, at)
}

// ExistenceLedger ledger, для которого запись эффекта сама является отметкой об обработке.
// Используется, когда ключ сообщения совпадает с первичным ключом создаваемой сущности.
type ExistenceLedger[T any] struct {
	Exists func(ctx context.Context, tx T, key string) (bool, error)
}

// Seen проверяет существование сущности с ключом key
func (l ExistenceLedger[T]) Seen(ctx context.Context, tx T, key string) (bool, error) {
	return l.Exists(ctx, tx, key)
}

// Record ничего не делает: сущность уже записана эффектом
func (ExistenceLedger[T]) Record(context.Context, T, string, time.Time) error {
	return nil
}
