package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/cqrs"
	"github.com/akriventsev/stocksync/framework/events"
	"github.com/akriventsev/stocksync/framework/transport"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/catalog/infrastructure/memory"
	"github.com/akriventsev/stocksync/internal/contracts"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, evt)
	return nil
}

func validCommand() application.CreateProduct {
	return application.CreateProduct{
		Name:        "Keyboard",
		Description: "Mechanical keyboard",
		Price:       decimal.RequireFromString("49.90"),
	}
}

func createProduct(t *testing.T, store *memory.Store) uuid.UUID {
	t.Helper()
	id, err := application.NewCreateProductHandler(store, nil, nil).Handle(context.Background(), validCommand())
	require.NoError(t, err)
	return id
}

func TestCreateProduct_WritesOutbox(t *testing.T) {
	store := memory.NewStore()
	handler := application.NewCreateProductHandler(store, nil, zap.NewNop())

	id, err := handler.Handle(context.Background(), validCommand())
	require.NoError(t, err)

	product, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockAmount())

	records := store.Outbox().Records()
	require.Len(t, records, 1)
	assert.Equal(t, contracts.ProductCreatedSubject, records[0].Destination)
	assert.Equal(t, "ProductCreated", records[0].EventType)

	var evt contracts.ProductCreated
	require.NoError(t, json.Unmarshal(records[0].Payload, &evt))
	assert.Equal(t, id, evt.ProductID)
	assert.Equal(t, "Keyboard", evt.Name)
	assert.Equal(t, records[0].ID, evt.EventID())
}

func TestCreateProduct_ValidationFailure(t *testing.T) {
	store := memory.NewStore()
	handler := application.NewCreateProductHandler(store, nil, nil)

	cmd := validCommand()
	cmd.Price = decimal.Zero

	_, err := handler.Handle(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrValidationFailed))

	products, err := store.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Empty(t, store.Outbox().Records())
}

func TestCreateProduct_DirectPublish(t *testing.T) {
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	handler := application.NewCreateProductHandler(store, publisher, nil)

	id, err := handler.Handle(context.Background(), validCommand())
	require.NoError(t, err)

	require.Len(t, publisher.published, 1)
	evt, ok := publisher.published[0].(contracts.ProductCreated)
	require.True(t, ok)
	assert.Equal(t, id, evt.ProductID)
	assert.Empty(t, store.Outbox().Records(), "direct mode must not write the outbox")
}

func TestCreateProduct_DirectPublishFailure(t *testing.T) {
	store := memory.NewStore()
	brokerDown := errors.New("broker unavailable")
	handler := application.NewCreateProductHandler(store, &recordingPublisher{err: brokerDown}, nil)

	_, err := handler.Handle(context.Background(), validCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerDown)

	// запись уже зафиксирована до публикации
	products, err := store.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestCreateProduct_ThroughDispatcher(t *testing.T) {
	store := memory.NewStore()
	dispatcher := cqrs.NewDispatcher(nil)
	cqrs.MustRegister[application.CreateProduct, uuid.UUID](dispatcher, application.NewCreateProductHandler(store, nil, nil))

	id, err := cqrs.Dispatch[application.CreateProduct, uuid.UUID](context.Background(), dispatcher, validCommand())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestProductQueries(t *testing.T) {
	store := memory.NewStore()
	first := createProduct(t, store)
	second := createProduct(t, store)

	queries := application.NewProductQueries(store)

	products, err := queries.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, first, products[0].ID())
	assert.Equal(t, second, products[1].ID())

	_, err = queries.GetProduct(context.Background(), uuid.New())
	assert.True(t, core.IsCode(err, core.ErrNotFound))
}

func TestInventoryAdded_AppliesOnce(t *testing.T) {
	store := memory.NewStore()
	productID := createProduct(t, store)

	observedCore, logs := observer.New(zap.InfoLevel)
	consumer := application.NewInventoryAddedConsumer(store, zap.New(observedCore), nil)

	evt := contracts.NewProductInventoryAdded(productID, 10)
	require.NoError(t, consumer.Handle(context.Background(), evt))
	require.NoError(t, consumer.Handle(context.Background(), evt))

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.StockAmount())

	_, processed := store.ProcessedAt(evt.EventID())
	assert.True(t, processed)
	assert.Equal(t, 1, logs.FilterMessage("message already processed, skipping").Len())
}

func TestInventoryAdded_UnknownProductIsRetryable(t *testing.T) {
	store := memory.NewStore()
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	evt := contracts.NewProductInventoryAdded(uuid.New(), 5)
	err := consumer.Handle(context.Background(), evt)

	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrNotFound))
	_, processed := store.ProcessedAt(evt.EventID())
	assert.False(t, processed, "failed event must not be recorded")
}

func TestInventoryAdded_InvalidQuantityDropped(t *testing.T) {
	store := memory.NewStore()
	productID := createProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	err := consumer.Handle(context.Background(), contracts.NewProductInventoryAdded(productID, 0))
	assert.NoError(t, err)

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockAmount())
}

func TestInventoryAdded_CancelledBeforeCommit(t *testing.T) {
	store := memory.NewStore()
	productID := createProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evt := contracts.NewProductInventoryAdded(productID, 7)
	err := consumer.Handle(ctx, evt)
	assert.ErrorIs(t, err, context.Canceled)

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockAmount())
	_, processed := store.ProcessedAt(evt.EventID())
	assert.False(t, processed)
}

func TestInventoryAdded_AccumulatesUnderRedelivery(t *testing.T) {
	store := memory.NewStore()
	productID := createProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	first := contracts.NewProductInventoryAdded(productID, 10)
	second := contracts.NewProductInventoryAdded(productID, 15)

	// каждое событие доставляется несколько раз в произвольном порядке
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, evt := range []contracts.ProductInventoryAdded{first, second} {
			wg.Add(1)
			go func(evt contracts.ProductInventoryAdded) {
				defer wg.Done()
				errs <- consumer.Handle(context.Background(), evt)
			}(evt)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 25, product.StockAmount())
}

type capturingSubscriber struct {
	handlers map[string]transport.MessageHandler
}

func (s *capturingSubscriber) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	if s.handlers == nil {
		s.handlers = make(map[string]transport.MessageHandler)
	}
	s.handlers[subject] = handler
	return nil
}

func (s *capturingSubscriber) Unsubscribe(subject string) error {
	delete(s.handlers, subject)
	return nil
}

func TestInventoryAdded_NonUUIDEventIDIsAcked(t *testing.T) {
	store := memory.NewStore()
	productID := createProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	subscriber := &capturingSubscriber{}
	require.NoError(t, consumer.Subscribe(context.Background(), subscriber))
	handler := subscriber.handlers[contracts.ProductInventoryAddedSubject]
	require.NotNil(t, handler)

	data, err := json.Marshal(map[string]interface{}{
		"eventId":   "inventory-1",
		"productId": productID,
		"quantity":  5,
	})
	require.NoError(t, err)

	msg := &transport.Message{Subject: contracts.ProductInventoryAddedSubject, Data: data, Attempt: 1}
	assert.NoError(t, handler(context.Background(), msg))

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockAmount())
	_, processed := store.ProcessedAt("inventory-1")
	assert.False(t, processed)
}
