package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/akriventsev/stocksync/framework/transport"
)

type stockAdded struct {
	ID        string    `json:"eventId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	At        time.Time `json:"occurredAt"`
}

func (e stockAdded) EventID() string       { return e.ID }
func (e stockAdded) EventType() string     { return "StockAdded" }
func (e stockAdded) OccurredAt() time.Time { return e.At }

type recordingBus struct {
	mu       sync.Mutex
	messages []*transport.Message
	handlers map[string]transport.MessageHandler
	err      error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[string]transport.MessageHandler)}
}

func (b *recordingBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, &transport.Message{Subject: subject, Data: data, Headers: headers, Attempt: 1})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return nil
}

func (b *recordingBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, subject)
	return nil
}

func TestNewMessage_Headers(t *testing.T) {
	evt := stockAdded{ID: NewEventID(), ProductID: "p-1", Quantity: 10, At: Now()}

	msg, err := NewMessage(context.Background(), "stock.added", evt)
	require.NoError(t, err)

	assert.Equal(t, "stock.added", msg.Subject)
	assert.Equal(t, evt.ID, msg.Header(transport.HeaderEventID))
	assert.Equal(t, "StockAdded", msg.Header(transport.HeaderEventType))
	assert.Equal(t, ContentTypeJSON, msg.Header(transport.HeaderContentType))

	decoded, err := Decode[stockAdded](msg)
	require.NoError(t, err)
	assert.Equal(t, evt.ProductID, decoded.ProductID)
	assert.Equal(t, 10, decoded.Quantity)
	assert.True(t, evt.At.Equal(decoded.At))
}

func TestNewMessage_RequiresEventID(t *testing.T) {
	_, err := NewMessage(context.Background(), "stock.added", stockAdded{ProductID: "p-1"})
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[stockAdded](&transport.Message{Subject: "stock.added", Data: []byte("{not json")})
	assert.True(t, IsMalformed(err))

	_, err = Decode[stockAdded](&transport.Message{Subject: "stock.added", Data: []byte(`{"productId":"p-1"}`)})
	assert.True(t, IsMalformed(err))

	_, err = Decode[stockAdded](&transport.Message{Subject: "stock.added", Data: []byte(`{"eventId":"evt-1","productId":"p-1"}`)})
	assert.True(t, IsMalformed(err))
	assert.ErrorContains(t, err, `invalid event id "evt-1"`)
}

func TestSubscribe_NonUUIDEventIDIsAcked(t *testing.T) {
	observed, logs := observer.New(zap.ErrorLevel)
	called := false
	handler := MessageHandler("stock.added", func(ctx context.Context, evt stockAdded) error {
		called = true
		return nil
	}, zap.New(observed))

	msg, err := NewMessage(context.Background(), "stock.added", stockAdded{ID: "not-a-uuid", ProductID: "p-1"})
	require.NoError(t, err)

	assert.NoError(t, handler(context.Background(), msg))
	assert.False(t, called)
	assert.Equal(t, 1, logs.FilterMessage("dropping malformed event").Len())
}

func TestPublisher_Publish(t *testing.T) {
	bus := newRecordingBus()
	publisher := NewPublisher(bus, zap.NewNop(), nil)

	evt := stockAdded{ID: "evt-1", ProductID: "p-1", Quantity: 5, At: Now()}
	require.NoError(t, publisher.Publish(context.Background(), "stock.added", evt))

	require.Len(t, bus.messages, 1)
	assert.Equal(t, "evt-1", bus.messages[0].Header(transport.HeaderEventID))
}

func TestPublisher_PublishError(t *testing.T) {
	bus := newRecordingBus()
	bus.err = errors.New("broker down")
	publisher := NewPublisher(bus, zap.NewNop(), nil)

	err := publisher.Publish(context.Background(), "stock.added", stockAdded{ID: "evt-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.err)
}

func TestSubscribe_DeliversTypedEvent(t *testing.T) {
	bus := newRecordingBus()
	var received []stockAdded
	require.NoError(t, Subscribe(context.Background(), bus, "stock.added", func(ctx context.Context, evt stockAdded) error {
		received = append(received, evt)
		return nil
	}, zap.NewNop()))

	msg, err := NewMessage(context.Background(), "stock.added", stockAdded{ID: NewEventID(), ProductID: "p-1", Quantity: 3})
	require.NoError(t, err)
	require.NoError(t, bus.handlers["stock.added"](context.Background(), msg))

	require.Len(t, received, 1)
	assert.Equal(t, "p-1", received[0].ProductID)
}

func TestSubscribe_MalformedIsAcked(t *testing.T) {
	observed, logs := observer.New(zap.ErrorLevel)
	called := false
	handler := MessageHandler("stock.added", func(ctx context.Context, evt stockAdded) error {
		called = true
		return nil
	}, zap.New(observed))

	err := handler(context.Background(), &transport.Message{Subject: "stock.added", Data: []byte("garbage")})
	assert.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, logs.FilterMessage("dropping malformed event").Len())
}

func TestSubscribe_HandlerErrorIsReturned(t *testing.T) {
	failure := errors.New("product not found")
	handler := MessageHandler("stock.added", func(ctx context.Context, evt stockAdded) error {
		return failure
	}, nil)

	msg, err := NewMessage(context.Background(), "stock.added", stockAdded{ID: NewEventID()})
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), msg), failure)
}
