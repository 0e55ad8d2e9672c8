package orders

import (
	"github.com/shopspring/decimal"
	"math"
	"time"
)

// Batas kolom order: quantity INTEGER, total_price NUMERIC(12,2).
const MaxQuantity = math.MaxInt32

var MaxTotalPrice = decimal.RequireFromString("9999999999.99")

type Product struct {
	ID        string
	SKU       string
	Name      string
	Price     decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID     string
	UserID string
	// ProductID is empty once the product has been deleted (ON DELETE SET NULL).
	ProductID       string
	Quantity        int
	UnitPrice       decimal.Decimal // snapshot of Product.Price at placement
	TotalPrice      decimal.Decimal
	ShippingAddress string
	Status          Status // lihat status.go
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HeldQuantity is the number of stock units this order keeps out of the ledger.
// See Status.HoldsStock.
func (o Order) HeldQuantity() int {
	return heldFor(o.Status, o.Quantity)
}

func heldFor(s Status, qty int) int {
	if !s.HoldsStock() {
		return 0
	}
	return qty
}

func (o Order) HasProduct() bool { return o.ProductID != "" }

func totalFor(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// QuantityLimit is the largest quantity whose total at unit still fits
// MaxTotalPrice.
func QuantityLimit(unit decimal.Decimal) int {
	if !unit.IsPositive() {
		return MaxQuantity
	}
	lim := MaxTotalPrice.Div(unit).Floor().IntPart()
	if lim > MaxQuantity {
		return MaxQuantity
	}
	return int(lim)
}

func checkQuantity(qty, limit int) error {
	if qty <= 0 {
		return &InvalidQuantityError{Quantity: qty}
	}
	if qty > limit {
		return &InvalidQuantityError{Quantity: qty, Limit: limit}
	}
	return nil
}

type PlaceOrderInput struct {
	UserID          string
	ProductID       string
	Quantity        int
	ShippingAddress string
	IdempotencyKey  string
}

// Policy holds the behaviour switches the service is configured with.
type Policy struct {
	AllowDuplicateOrders     bool
	EnforceStatusTransitions bool
}
