// Package contracts описывает события, которыми обмениваются сервисы catalog и stock.
package contracts

import (
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/stocksync/framework/events"
)

// Направления (destinations) брокера
const (
	ProductCreatedSubject        = "product-created"
	ProductInventoryAddedSubject = "product-inventory-added"
)

// ProductCreated публикуется catalog-service после создания продукта
type ProductCreated struct {
	ID        string    `json:"eventId"`
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	At        time.Time `json:"occurredAt"`
}

// NewProductCreated создает событие с новым идентификатором
func NewProductCreated(productID uuid.UUID, name string) ProductCreated {
	return ProductCreated{
		ID:        events.NewEventID(),
		ProductID: productID,
		Name:      name,
		At:        events.Now(),
	}
}

func (e ProductCreated) EventID() string       { return e.ID }
func (e ProductCreated) EventType() string     { return "ProductCreated" }
func (e ProductCreated) OccurredAt() time.Time { return e.At }

// ProductInventoryAdded публикуется stock-service после добавления поступления
type ProductInventoryAdded struct {
	ID        string    `json:"eventId"`
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	At        time.Time `json:"occurredAt"`
}

// NewProductInventoryAdded создает событие с новым идентификатором
func NewProductInventoryAdded(productID uuid.UUID, quantity int) ProductInventoryAdded {
	return ProductInventoryAdded{
		ID:        events.NewEventID(),
		ProductID: productID,
		Quantity:  quantity,
		At:        events.Now(),
	}
}

func (e ProductInventoryAdded) EventID() string       { return e.ID }
func (e ProductInventoryAdded) EventType() string     { return "ProductInventoryAdded" }
func (e ProductInventoryAdded) OccurredAt() time.Time { return e.At }
