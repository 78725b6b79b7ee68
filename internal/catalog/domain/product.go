// Package domain содержит сущность Product и ее инварианты.
package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/stocksync/framework/core"
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 1000
	// PriceScale количество знаков после запятой, decimal(18,2)
	PriceScale = 2
	// MaxStockAmount предел остатка, stock_amount BIGINT
	MaxStockAmount = math.MaxInt64
)

// maxPrice верхняя граница decimal(18,2)
var maxPrice = decimal.New(1, 18-PriceScale)

// Product продукт каталога. Поля изменяются только методами сущности.
type Product struct {
	id          uuid.UUID
	name        string
	description string
	price       decimal.Decimal
	stockAmount int
	createdAt   time.Time
	updatedAt   time.Time
}

// NewProduct создает продукт с нулевым остатком
func NewProduct(name, description string, price decimal.Decimal) (*Product, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.NewError(core.ErrValidationFailed, "Product name must not be empty")
	}
	if len([]rune(name)) > MaxNameLength {
		return nil, core.Errorf(core.ErrValidationFailed, "Product name must not exceed %d characters", MaxNameLength)
	}
	if strings.TrimSpace(description) == "" {
		return nil, core.NewError(core.ErrValidationFailed, "Product description must not be empty")
	}
	if len([]rune(description)) > MaxDescriptionLength {
		return nil, core.Errorf(core.ErrValidationFailed, "Product description must not exceed %d characters", MaxDescriptionLength)
	}

	price = price.Round(PriceScale)
	if !price.IsPositive() {
		return nil, core.NewError(core.ErrValidationFailed, "Product price must be greater than 0")
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return nil, core.NewError(core.ErrValidationFailed, "Product price is out of range")
	}

	now := time.Now().UTC()
	return &Product{
		id:          uuid.New(),
		name:        name,
		description: description,
		price:       price,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// RestoreProduct восстанавливает продукт из хранилища без проверки инвариантов
func RestoreProduct(id uuid.UUID, name, description string, price decimal.Decimal, stockAmount int, createdAt, updatedAt time.Time) *Product {
	return &Product{
		id:          id,
		name:        name,
		description: description,
		price:       price,
		stockAmount: stockAmount,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// IncrementStockAmount увеличивает остаток на delta
func (p *Product) IncrementStockAmount(delta int) error {
	if delta <= 0 {
		return core.NewError(core.ErrValidationFailed, "Amount must be greater than 0")
	}
	if int64(p.stockAmount) > MaxStockAmount-int64(delta) {
		return core.Errorf(core.ErrValidationFailed, "Stock amount must not exceed %d", int64(MaxStockAmount))
	}
	p.stockAmount += delta
	p.updatedAt = time.Now().UTC()
	return nil
}

func (p *Product) ID() uuid.UUID          { return p.id }
func (p *Product) Name() string           { return p.name }
func (p *Product) Description() string    { return p.description }
func (p *Product) Price() decimal.Decimal { return p.price }
func (p *Product) StockAmount() int       { return p.stockAmount }
func (p *Product) CreatedAt() time.Time   { return p.createdAt }
func (p *Product) UpdatedAt() time.Time   { return p.updatedAt }
