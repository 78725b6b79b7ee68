// Package outbox реализует transactional outbox: события сохраняются в той же
// транзакции, что и изменение сущности, и публикуются отдельным relay.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/transport"
)

// Record запись outbox
type Record struct {
	// ID идентификатор события, повторные публикации используют его же
	ID          string
	Destination string
	EventType   string
	Payload     []byte
	Headers     map[string]string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewRecord кодирует событие в запись outbox
func NewRecord(ctx context.Context, destination string, evt events.Event) (Record, error) {
	msg, err := events.NewMessage(ctx, destination, evt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to build outbox record: %w", err)
	}
	return Record{
		ID:          evt.EventID(),
		Destination: destination,
		EventType:   evt.EventType(),
		Payload:     msg.Data,
		Headers:     msg.Headers,
		CreatedAt:   events.Now(),
	}, nil
}

// Message возвращает сообщение брокера для записи
func (r Record) Message() *transport.Message {
	return &transport.Message{
		Subject: r.Destination,
		Data:    r.Payload,
		Headers: r.Headers,
	}
}

// Writer добавляет записи в outbox внутри транзакции
type Writer interface {
	Append(ctx context.Context, record Record) error
}

// Store хранилище записей outbox для relay
type Store interface {
	// FetchPending возвращает не более limit неопубликованных записей в порядке создания
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	// MarkPublished отмечает запись опубликованной
	MarkPublished(ctx context.Context, id string, at time.Time) error
}
