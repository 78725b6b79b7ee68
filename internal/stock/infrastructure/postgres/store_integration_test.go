package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/adapters/repository/pgtest"
	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/internal/contracts"
	"github.com/akriventsev/stocksync/internal/stock/application"
	"github.com/akriventsev/stocksync/internal/stock/domain"
)

func openStores(t *testing.T) (*Store, *ReadModelStore) {
	t.Helper()
	pool := pgtest.Open(t, Migrations())
	return NewStore(pool), NewReadModelStore(pool)
}

func TestReadModelStore_ConcurrentProductCreatedInsertsOnce(t *testing.T) {
	_, readModels := openStores(t)
	consumer := application.NewProductCreatedConsumer(readModels, nil, nil)
	evt := contracts.NewProductCreated(uuid.New(), "Keyboard")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		// каждая доставка несет свой eventId, ключ дедупликации productId
		delivery := evt
		delivery.ID = uuid.NewString()
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- consumer.Handle(context.Background(), delivery)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	model, err := readModels.GetReadModel(context.Background(), evt.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", model.Name())

	var n int
	require.NoError(t, readModels.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM product_read_models`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestReadModelStore_DuplicateInsertIsAlreadyProcessed(t *testing.T) {
	_, readModels := openStores(t)
	model, err := domain.NewProductReadModel(uuid.New(), "Mouse")
	require.NoError(t, err)

	insert := func(ctx context.Context, tx application.ReadModelTx) error {
		return tx.InsertReadModel(ctx, model)
	}
	require.NoError(t, readModels.WithinTransaction(context.Background(), insert))
	err = readModels.WithinTransaction(context.Background(), insert)
	assert.True(t, core.IsCode(err, core.ErrAlreadyProcessed))

	exists, err := readModels.Exists(context.Background(), model.ProductID())
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = readModels.GetReadModel(context.Background(), uuid.New())
	assert.True(t, core.IsCode(err, core.ErrNotFound))
}

func TestStore_AddInventoryWritesOutbox(t *testing.T) {
	store, readModels := openStores(t)
	productID := uuid.New()
	require.NoError(t, application.NewProductCreatedConsumer(readModels, nil, nil).
		Handle(context.Background(), contracts.NewProductCreated(productID, "Keyboard")))

	handler := application.NewAddInventoryHandler(store, readModels, nil, nil)
	id, err := handler.Handle(context.Background(), application.AddInventory{ProductID: productID, Quantity: 7, AddedBy: "warehouse-1"})
	require.NoError(t, err)

	inventories, err := store.ListInventory(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, inventories, 1)
	assert.Equal(t, id, inventories[0].ID())
	assert.Equal(t, 7, inventories[0].Quantity())
	assert.Equal(t, "warehouse-1", inventories[0].AddedBy())

	records, err := store.Outbox().FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, contracts.ProductInventoryAddedSubject, records[0].Destination)
}

func TestStore_FailedTransactionLeavesNoRows(t *testing.T) {
	store, _ := openStores(t)
	productID := uuid.New()
	inventory, err := domain.NewInventory(productID, 3, "warehouse-1")
	require.NoError(t, err)
	crash := errors.New("process stopped")

	err = store.WithinTransaction(context.Background(), func(ctx context.Context, tx application.Tx) error {
		if err := tx.InsertInventory(ctx, inventory); err != nil {
			return err
		}
		return crash
	})
	assert.ErrorIs(t, err, crash)

	inventories, err := store.ListInventory(context.Background(), productID)
	require.NoError(t, err)
	assert.Empty(t, inventories)
}
