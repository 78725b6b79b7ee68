package container

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/core"
	"github.com/akriventsev/stocksync/framework/outbox"
	catalogapp "github.com/akriventsev/stocksync/internal/catalog/application"
	catalogmemory "github.com/akriventsev/stocksync/internal/catalog/infrastructure/memory"
	"github.com/akriventsev/stocksync/internal/contracts"
	stockapp "github.com/akriventsev/stocksync/internal/stock/application"
	stockmemory "github.com/akriventsev/stocksync/internal/stock/infrastructure/memory"
)

func TestInventoryFlowsFromStockToCatalog(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Outbox.PollInterval = 10 * time.Millisecond

	infra, err := New(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, infra.Start(ctx))
	defer func() { assert.NoError(t, infra.Shutdown(ctx)) }()

	catalogStore := catalogmemory.NewStore()
	stockStore := stockmemory.NewStore()
	readModels := stockmemory.NewReadModelStore()

	// оба сервиса делят одну шину; relay stock-service запускается отдельно
	require.NoError(t, infra.AddRelay(catalogStore.Outbox()))
	stockRelay, err := outbox.NewRelay(cfg.Outbox.Relay(), stockStore.Outbox(), infra.Bus, nil, nil)
	require.NoError(t, err)
	require.NoError(t, stockRelay.Start(ctx))
	defer func() { assert.NoError(t, stockRelay.Stop(ctx)) }()

	require.NoError(t, infra.AddConsumer("product-created-consumer", contracts.ProductCreatedSubject,
		stockapp.NewProductCreatedConsumer(readModels, nil, nil).Subscribe))
	require.NoError(t, infra.AddConsumer("inventory-added-consumer", contracts.ProductInventoryAddedSubject,
		catalogapp.NewInventoryAddedConsumer(catalogStore, nil, nil).Subscribe))
	require.NoError(t, infra.Start(ctx))

	productID, err := catalogapp.NewCreateProductHandler(catalogStore, nil, nil).Handle(ctx, catalogapp.CreateProduct{
		Name:        "Keyboard",
		Description: "Mechanical keyboard",
		Price:       decimal.RequireFromString("49.90"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exists, err := readModels.Exists(ctx, productID)
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond, "product did not reach stock read model")

	addInventory := stockapp.NewAddInventoryHandler(stockStore, readModels, nil, nil)
	for _, quantity := range []int{10, 15} {
		_, err := addInventory.Handle(ctx, stockapp.AddInventory{ProductID: productID, Quantity: quantity, AddedBy: "warehouse-1"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		product, err := catalogStore.GetProduct(ctx, productID)
		return err == nil && product.StockAmount() == 25
	}, 2*time.Second, 10*time.Millisecond, "catalog stock total was not updated")

	_, err = addInventory.Handle(ctx, stockapp.AddInventory{ProductID: uuid.New(), Quantity: 1, AddedBy: "warehouse-1"})
	assert.True(t, core.IsCode(err, core.ErrValidationFailed))

	inventories, err := stockStore.ListInventory(ctx, productID)
	require.NoError(t, err)
	assert.Len(t, inventories, 2)
}
