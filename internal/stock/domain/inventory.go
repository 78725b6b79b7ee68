// Package domain содержит поступления товара и локальную копию продуктов каталога.
package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/core"
)

const (
	// MaxQuantity предел количества, inventories.quantity INTEGER
	MaxQuantity      = math.MaxInt32
	MaxAddedByLength = 200
	MaxReadModelName = 500
)

// Inventory поступление товара на склад. Записи только добавляются.
type Inventory struct {
	id        uuid.UUID
	productID uuid.UUID
	quantity  int
	addedAt   time.Time
	addedBy   string
}

// NewInventory создает поступление
func NewInventory(productID uuid.UUID, quantity int, addedBy string) (*Inventory, error) {
	if quantity <= 0 {
		return nil, core.NewError(core.ErrValidationFailed, "Quantity must be greater than 0")
	}
	if quantity > MaxQuantity {
		return nil, core.Errorf(core.ErrValidationFailed, "Quantity must not exceed %d", MaxQuantity)
	}
	if strings.TrimSpace(addedBy) == "" {
		return nil, core.NewError(core.ErrValidationFailed, "AddedBy must not be empty")
	}
	if len([]rune(addedBy)) > MaxAddedByLength {
		return nil, core.Errorf(core.ErrValidationFailed, "AddedBy must not exceed %d characters", MaxAddedByLength)
	}

	return &Inventory{
		id:        uuid.New(),
		productID: productID,
		quantity:  quantity,
		addedAt:   time.Now().UTC(),
		addedBy:   addedBy,
	}, nil
}

// RestoreInventory восстанавливает поступление из хранилища
func RestoreInventory(id, productID uuid.UUID, quantity int, addedAt time.Time, addedBy string) *Inventory {
	return &Inventory{
		id:        id,
		productID: productID,
		quantity:  quantity,
		addedAt:   addedAt,
		addedBy:   addedBy,
	}
}

func (i *Inventory) ID() uuid.UUID        { return i.id }
func (i *Inventory) ProductID() uuid.UUID { return i.productID }
func (i *Inventory) Quantity() int        { return i.quantity }
func (i *Inventory) AddedAt() time.Time   { return i.addedAt }
func (i *Inventory) AddedBy() string      { return i.addedBy }

// ProductReadModel копия продукта каталога, известного stock-service.
// Запись создается один раз на productId и не изменяется.
type ProductReadModel struct {
	productID uuid.UUID
	name      string
	syncedAt  time.Time
}

// NewProductReadModel создает запись read model
func NewProductReadModel(productID uuid.UUID, name string) (*ProductReadModel, error) {
	if productID == uuid.Nil {
		return nil, core.NewError(core.ErrValidationFailed, "ProductId must not be empty")
	}
	if len([]rune(name)) > MaxReadModelName {
		return nil, core.Errorf(core.ErrValidationFailed, "Product name must not exceed %d characters", MaxReadModelName)
	}
	return &ProductReadModel{
		productID: productID,
		name:      name,
		syncedAt:  time.Now().UTC(),
	}, nil
}

// RestoreProductReadModel восстанавливает запись из хранилища
func RestoreProductReadModel(productID uuid.UUID, name string, syncedAt time.Time) *ProductReadModel {
	return &ProductReadModel{productID: productID, name: name, syncedAt: syncedAt}
}

func (m *ProductReadModel) ProductID() uuid.UUID { return m.productID }
func (m *ProductReadModel) Name() string         { return m.name }
func (m *ProductReadModel) SyncedAt() time.Time  { return m.syncedAt }
