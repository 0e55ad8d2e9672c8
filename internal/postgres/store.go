package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store runs units of work as pgx transactions. Row locks come from
// SELECT ... FOR UPDATE and are held until commit or rollback.
type Store struct{ DB *pgxpool.Pool }

var _ orders.TxRunner = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, pgTx{tx}); err != nil {
		return err // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertProduct is used by seeding and tests; catalog management itself is
// outside this service.
func (s *Store) UpsertProduct(ctx context.Context, p orders.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, sku, name, price, stock)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO UPDATE
		SET sku = EXCLUDED.sku, name = EXCLUDED.name, price = EXCLUDED.price,
		    stock = EXCLUDED.stock, updated_at = now()`,
		p.ID, p.SKU, p.Name, p.Price.String(), p.Stock)
	return err
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) Products() orders.ProductStore { return productRepo{t.tx} }
func (t pgTx) Orders() orders.OrderStore     { return orderRepo{t.tx} }

const (
	uniqueViolation  = "23505"
	idempotencyIndex = "orders_user_idempotency_key"
)

const productColumns = `id, sku, name, price::text, stock, created_at, updated_at`

type productRepo struct{ tx pgx.Tx }

func (r productRepo) Get(ctx context.Context, id string) (orders.Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (r productRepo) GetForUpdate(ctx context.Context, id string) (orders.Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
}

func (r productRepo) List(ctx context.Context) ([]orders.Product, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save persists the stock level. Catalog fields are owned elsewhere.
func (r productRepo) Save(ctx context.Context, p orders.Product) error {
	ct, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, p.ID, p.Stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrProductNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	return p, nil
}

const orderColumns = `id, user_id, COALESCE(product_id, ''), quantity, unit_price::text, total_price::text,
	shipping_address, status, COALESCE(idempotency_key, ''), created_at, updated_at`

type orderRepo struct{ tx pgx.Tx }

func (r orderRepo) Get(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (r orderRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (orders.Order, error) {
	return scanOrder(r.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key))
}

func (r orderRepo) HasOpenOrder(ctx context.Context, userID, productID, excludeID string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE user_id=$1 AND product_id=$2 AND status NOT IN ('Canceled', 'Refunded') AND id <> $3
		)`, userID, productID, excludeID).Scan(&exists)
	return exists, err
}

func (r orderRepo) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r orderRepo) Insert(ctx context.Context, o orders.Order) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, product_id, quantity, unit_price, total_price,
		                   shipping_address, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::numeric, $6::numeric, $7, $8, NULLIF($9, ''), $10, $11)`,
		o.ID, o.UserID, o.ProductID, o.Quantity, o.UnitPrice.String(), o.TotalPrice.String(),
		o.ShippingAddress, string(o.Status), o.IdempotencyKey, o.CreatedAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyIndex {
		return fmt.Errorf("%w: %s", orders.ErrDuplicateIdempotencyKey, o.IdempotencyKey)
	}
	return err
}

func (r orderRepo) Update(ctx context.Context, o orders.Order) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE orders SET quantity=$2, total_price=$3::numeric, status=$4, updated_at=$5
		WHERE id=$1`,
		o.ID, o.Quantity, o.TotalPrice.String(), string(o.Status), o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (r orderRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                orders.Order
		unit, total, sts string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &unit, &total,
		&o.ShippingAddress, &sts, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(sts)
	if o.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return orders.Order{}, fmt.Errorf("order %s unit price: %w", o.ID, err)
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, fmt.Errorf("order %s total price: %w", o.ID, err)
	}
	return o, nil
}
