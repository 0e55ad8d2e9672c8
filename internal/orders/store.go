package orders

import "context"

// TxRunner runs fn inside a single unit of work. The work is committed only when
// fn returns nil; any error (or a cancelled ctx) rolls every write back.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Products() ProductStore
	Orders() OrderStore
}

// ProductStore returns ErrProductNotFound for unknown ids.
// GetForUpdate holds an exclusive lock on the row until the transaction ends.
type ProductStore interface {
	Get(ctx context.Context, id string) (Product, error)
	GetForUpdate(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Save(ctx context.Context, p Product) error
}

// OrderStore returns ErrOrderNotFound for unknown ids.
type OrderStore interface {
	Get(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, id string) (Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error)
	// HasOpenOrder reports whether userID has a non-canceled order for productID,
	// ignoring the order excludeID (may be empty).
	HasOpenOrder(ctx context.Context, userID, productID, excludeID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Insert returns ErrDuplicateIdempotencyKey when (UserID, IdempotencyKey)
	// is already taken.
	Insert(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	Delete(ctx context.Context, id string) error
}

// Ledger is the only writer of Product.Stock. Every call joins the transaction
// that owns products.
type Ledger interface {
	Reserve(ctx context.Context, products ProductStore, productID string, qty int) (Product, error)
	Release(ctx context.Context, products ProductStore, productID string, qty int) (Product, error)
	Adjust(ctx context.Context, products ProductStore, productID string, delta int) (Product, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type OrderCache interface {
	GetOrder(ctx context.Context, orderID string) (Order, bool, error)
	SetOrder(ctx context.Context, o Order) error
	InvalidateOrder(ctx context.Context, orderID string) error
}

// IdempotencyCache is a fast path only; the order store stays authoritative.
type IdempotencyCache interface {
	LookupOrderID(ctx context.Context, userID, key string) (string, bool, error)
	RememberOrderID(ctx context.Context, userID, key, orderID string) error
}
