package postgres

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/adapters/repository/pgtest"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/internal/catalog/application"
	"github.com/akriventsev/stocksync/internal/contracts"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(pgtest.Open(t, Migrations()))
}

func createTestProduct(t *testing.T, store *Store) uuid.UUID {
	t.Helper()
	id, err := application.NewCreateProductHandler(store, nil, nil).Handle(context.Background(), application.CreateProduct{
		Name:        "Keyboard",
		Description: "Mechanical keyboard",
		Price:       decimal.RequireFromString("49.90"),
	})
	require.NoError(t, err)
	return id
}

func processedCount(t *testing.T, store *Store, eventID string) int {
	t.Helper()
	var n int
	require.NoError(t, store.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM processed_events WHERE event_id = $1`, eventID).Scan(&n))
	return n
}

func TestStore_CreateProductWritesOutbox(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	id := createTestProduct(t, store)

	product, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", product.Name())
	assert.True(t, decimal.RequireFromString("49.90").Equal(product.Price()))
	assert.Equal(t, 0, product.StockAmount())

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	records, err := store.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, contracts.ProductCreatedSubject, records[0].Destination)

	_, err = store.GetProduct(ctx, uuid.New())
	assert.True(t, core.IsCode(err, core.ErrNotFound))
}

func TestStore_ConcurrentDuplicateDeliveryAppliesOnce(t *testing.T) {
	store := openStore(t)
	productID := createTestProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)
	evt := contracts.NewProductInventoryAdded(productID, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- consumer.Handle(context.Background(), evt)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.StockAmount())
	assert.Equal(t, 1, processedCount(t, store, evt.EventID()))
}

func TestStore_FailureAfterEffectRollsBackEffectAndLedger(t *testing.T) {
	store := openStore(t)
	productID := createTestProduct(t, store)
	eventID := uuid.NewString()
	crash := errors.New("process stopped")

	err := store.WithinTransaction(context.Background(), func(ctx context.Context, tx application.Tx) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if err := product.IncrementStockAmount(5); err != nil {
			return err
		}
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return err
		}
		if err := tx.MarkProcessed(ctx, eventID, product.UpdatedAt()); err != nil {
			return err
		}
		return crash
	})
	assert.ErrorIs(t, err, crash)

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockAmount())
	assert.Zero(t, processedCount(t, store, eventID))

	// повторная доставка после сбоя применяется
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)
	evt := contracts.NewProductInventoryAdded(productID, 5)
	evt.ID = eventID
	require.NoError(t, consumer.Handle(context.Background(), evt))

	product, err = store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.StockAmount())
}

func TestStore_StockAmountBeyondInt32(t *testing.T) {
	store := openStore(t)
	productID := createTestProduct(t, store)
	consumer := application.NewInventoryAddedConsumer(store, nil, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, consumer.Handle(context.Background(), contracts.NewProductInventoryAdded(productID, math.MaxInt32)))
	}

	product, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 2*math.MaxInt32, product.StockAmount())
}
