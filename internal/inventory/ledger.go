package inventory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"go.uber.org/zap"
)

// Ledger owns product stock. Each call locks the product row through the
// transaction-scoped store it is handed, so check and write see the same value.
type Ledger struct {
	Log *zap.Logger
}

var _ orders.Ledger = (*Ledger)(nil)

// Reserve takes qty units out of stock, or nothing at all.
func (l *Ledger) Reserve(ctx context.Context, products orders.ProductStore, productID string, qty int) (orders.Product, error) {
	if qty <= 0 {
		return orders.Product{}, &orders.InvalidQuantityError{Quantity: qty}
	}
	p, err := products.GetForUpdate(ctx, productID)
	if err != nil {
		return orders.Product{}, err
	}
	if p.Stock < qty {
		return orders.Product{}, &orders.InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
	}
	return l.apply(ctx, products, p, -qty)
}

// Release puts qty units back. There is no upper bound on stock.
func (l *Ledger) Release(ctx context.Context, products orders.ProductStore, productID string, qty int) (orders.Product, error) {
	if qty < 0 {
		return orders.Product{}, &orders.InvalidQuantityError{Quantity: qty}
	}
	p, err := products.GetForUpdate(ctx, productID)
	if err != nil {
		return orders.Product{}, err
	}
	if qty == 0 {
		return p, nil
	}
	return l.apply(ctx, products, p, qty)
}

// Adjust applies a signed delta: positive gives stock back, negative consumes it.
func (l *Ledger) Adjust(ctx context.Context, products orders.ProductStore, productID string, delta int) (orders.Product, error) {
	p, err := products.GetForUpdate(ctx, productID)
	if err != nil {
		return orders.Product{}, err
	}
	if delta == 0 {
		return p, nil
	}
	if p.Stock+delta < 0 {
		return orders.Product{}, &orders.InsufficientStockError{
			ProductID:  p.ID,
			Requested:  -delta,
			Available:  p.Stock,
			Adjustment: true,
		}
	}
	return l.apply(ctx, products, p, delta)
}

func (l *Ledger) apply(ctx context.Context, products orders.ProductStore, p orders.Product, delta int) (orders.Product, error) {
	before := p.Stock
	p.Stock += delta
	if err := products.Save(ctx, p); err != nil {
		return orders.Product{}, fmt.Errorf("save stock for product %s: %w", p.ID, err)
	}
	if l.Log != nil {
		l.Log.Debug("stock changed",
			zap.String("product_id", p.ID),
			zap.Int("before", before),
			zap.Int("after", p.Stock))
	}
	return p, nil
}
