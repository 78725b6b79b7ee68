// Package events предоставляет доменные события и их кодирование в сообщения брокера.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/observability"
	"github.com/akriventsev/stocksync/framework/transport"
)

// ContentTypeJSON тип содержимого событий
const ContentTypeJSON = "application/json"

// ErrMalformedEvent сообщение не удалось декодировать в событие
var ErrMalformedEvent = errors.New("malformed event")

// Event представляет доменное событие
type Event interface {
	// EventID возвращает уникальный идентификатор события, ключ дедупликации
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
}

// NewEventID генерирует идентификатор события.
// Вызывается один раз на каждое логическое событие; повторные публикации используют тот же ID.
func NewEventID() string {
	return uuid.NewString()
}

// Now возвращает текущее время в UTC, округленное до микросекунд
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewMessage кодирует событие в сообщение брокера.
// Заголовки содержат идентификатор и тип события, а также trace context из ctx.
func NewMessage(ctx context.Context, subject string, evt Event) (*transport.Message, error) {
	if evt.EventID() == "" {
		return nil, fmt.Errorf("event %s has no event id", evt.EventType())
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", evt.EventType(), err)
	}

	headers := map[string]string{
		transport.HeaderEventID:     evt.EventID(),
		transport.HeaderEventType:   evt.EventType(),
		transport.HeaderContentType: ContentTypeJSON,
	}
	observability.InjectTraceHeaders(ctx, headers)

	return &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: headers,
	}, nil
}

// Decode декодирует сообщение в событие типа E.
// Идентификатор события обязан быть UUID: он хранится в журнале обработанных событий.
func Decode[E Event](msg *transport.Message) (E, error) {
	var evt E
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return evt, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, msg.Subject, err)
	}
	if evt.EventID() == "" {
		return evt, fmt.Errorf("%w: %s: missing event id", ErrMalformedEvent, msg.Subject)
	}
	if _, err := uuid.Parse(evt.EventID()); err != nil {
		return evt, fmt.Errorf("%w: %s: invalid event id %q", ErrMalformedEvent, msg.Subject, evt.EventID())
	}
	return evt, nil
}
