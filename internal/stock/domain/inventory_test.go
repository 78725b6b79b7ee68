package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/stocksync/framework/core"
)

func TestNewInventory(t *testing.T) {
	productID := uuid.New()

	inv, err := NewInventory(productID, 10, "warehouse-1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, inv.ID())
	assert.Equal(t, productID, inv.ProductID())
	assert.Equal(t, 10, inv.Quantity())
	assert.Equal(t, "warehouse-1", inv.AddedBy())
	assert.Equal(t, time.UTC, inv.AddedAt().Location())
}

func TestNewInventory_Validation(t *testing.T) {
	tests := []struct {
		name     string
		quantity int
		addedBy  string
		message  string
	}{
		{"zero quantity", 0, "user", "Quantity must be greater than 0"},
		{"negative quantity", -5, "user", "Quantity must be greater than 0"},
		{"quantity above column range", MaxQuantity + 1, "user", "Quantity must not exceed 2147483647"},
		{"blank added by", 1, "  ", "AddedBy must not be empty"},
		{"long added by", 1, strings.Repeat("u", MaxAddedByLength+1), "AddedBy must not exceed 200 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInventory(uuid.New(), tt.quantity, tt.addedBy)
			require.Error(t, err)
			assert.True(t, core.IsCode(err, core.ErrValidationFailed))
			assert.Equal(t, tt.message, core.MessageOf(err))
		})
	}
}

func TestNewProductReadModel(t *testing.T) {
	id := uuid.New()
	model, err := NewProductReadModel(id, "Keyboard")
	require.NoError(t, err)
	assert.Equal(t, id, model.ProductID())
	assert.Equal(t, "Keyboard", model.Name())
	assert.False(t, model.SyncedAt().IsZero())

	_, err = NewProductReadModel(uuid.Nil, "Keyboard")
	assert.True(t, core.IsCode(err, core.ErrValidationFailed))

	_, err = NewProductReadModel(id, strings.Repeat("n", MaxReadModelName+1))
	assert.True(t, core.IsCode(err, core.ErrValidationFailed))
}
