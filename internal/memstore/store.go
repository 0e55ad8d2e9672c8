// Package memstore keeps products and orders in process memory behind the same
// transactional interfaces as the Postgres store. Rows are locked individually
// and writes are buffered per transaction, so a failed unit of work leaves no
// trace.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateKey = errors.New("memstore: duplicate key")

type Store struct {
	mu       sync.Mutex
	products map[string]orders.Product
	orders   map[string]orders.Order
	locks    map[string]*rowLock
	now      func() time.Time
}

func New() *Store {
	return &Store{
		products: map[string]orders.Product{},
		orders:   map[string]orders.Order{},
		locks:    map[string]*rowLock{},
		now:      time.Now,
	}
}

var _ orders.TxRunner = (*Store)(nil)

// PutProduct creates or replaces a product. Product management lives outside
// the order core; this is how it feeds the store.
func (s *Store) PutProduct(p orders.Product) {
	unlock := s.lockBlocking(productKey(p.ID))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
}

// DeleteProduct removes a product and detaches the orders that referenced it.
func (s *Store) DeleteProduct(id string) {
	unlock := s.lockBlocking(productKey(id))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	for oid, o := range s.orders {
		if o.ProductID == id {
			o.ProductID = ""
			s.orders[oid] = o
		}
	}
}

// Product returns the committed state of a product.
func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Order returns the committed state of an order.
func (s *Store) Order(id string) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:        s,
		products: map[string]orders.Product{},
		orders:   map[string]orders.Order{},
		deleted:  map[string]bool{},
		held:     map[string]func(){},
	}
	defer tx.unlockAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	// caller pergi sebelum commit -> rollback
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// rowLock counts its holder and waiters; the entry leaves the table when the
// count drops to zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (s *Store) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.unref(key, l)
		}, nil
	case <-ctx.Done():
		s.unref(key, l)
		return nil, ctx.Err()
	}
}

func (s *Store) unref(key string, l *rowLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *Store) lockBlocking(key string) func() {
	unlock, _ := s.acquire(context.Background(), key)
	return unlock
}

func (s *Store) lockedRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func productKey(id string) string { return "product:" + id }
func orderKey(id string) string   { return "order:" + id }

func idempotencyKey(userID, key string) string { return "idem:" + userID + ":" + key }

type memTx struct {
	s        *Store
	products map[string]orders.Product
	orders   map[string]orders.Order
	deleted  map[string]bool
	held     map[string]func()
}

func (tx *memTx) Products() orders.ProductStore { return productStore{tx} }
func (tx *memTx) Orders() orders.OrderStore     { return orderStore{tx} }

// lock is re-entrant within the transaction and gives up when ctx ends.
func (tx *memTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	unlock, err := tx.s.acquire(ctx, key)
	if err != nil {
		return err
	}
	tx.held[key] = unlock
	return nil
}

func (tx *memTx) unlockAll() {
	for key, unlock := range tx.held {
		unlock()
		delete(tx.held, key)
	}
}

func (tx *memTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id, p := range tx.products {
		tx.s.products[id] = p
	}
	for id, o := range tx.orders {
		// product bisa dihapus setelah order ini dibaca
		if _, ok := tx.s.products[o.ProductID]; !ok {
			o.ProductID = ""
		}
		tx.s.orders[id] = o
	}
	for id := range tx.deleted {
		delete(tx.s.orders, id)
	}
}

func (tx *memTx) product(id string) (orders.Product, bool) {
	if p, ok := tx.products[id]; ok {
		return p, true
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	p, ok := tx.s.products[id]
	return p, ok
}

func (tx *memTx) order(id string) (orders.Order, bool) {
	if tx.deleted[id] {
		return orders.Order{}, false
	}
	if o, ok := tx.orders[id]; ok {
		return o, true
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	o, ok := tx.s.orders[id]
	return o, ok
}

// visibleOrders merges committed rows with this transaction's writes.
func (tx *memTx) visibleOrders() []orders.Order {
	tx.s.mu.Lock()
	merged := make(map[string]orders.Order, len(tx.s.orders)+len(tx.orders))
	for id, o := range tx.s.orders {
		merged[id] = o
	}
	tx.s.mu.Unlock()
	for id, o := range tx.orders {
		merged[id] = o
	}
	out := make([]orders.Order, 0, len(merged))
	for id, o := range merged {
		if !tx.deleted[id] {
			out = append(out, o)
		}
	}
	return out
}

type productStore struct{ tx *memTx }

func (ps productStore) Get(ctx context.Context, id string) (orders.Product, error) {
	p, ok := ps.tx.product(id)
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (ps productStore) GetForUpdate(ctx context.Context, id string) (orders.Product, error) {
	if err := ps.tx.lock(ctx, productKey(id)); err != nil {
		return orders.Product{}, err
	}
	return ps.Get(ctx, id)
}

func (ps productStore) List(ctx context.Context) ([]orders.Product, error) {
	ps.tx.s.mu.Lock()
	out := make([]orders.Product, 0, len(ps.tx.s.products))
	for id, p := range ps.tx.s.products {
		if staged, ok := ps.tx.products[id]; ok {
			p = staged
		}
		out = append(out, p)
	}
	ps.tx.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (ps productStore) Save(ctx context.Context, p orders.Product) error {
	if _, ok := ps.tx.product(p.ID); !ok {
		return orders.ErrProductNotFound
	}
	p.UpdatedAt = ps.tx.s.now().UTC()
	ps.tx.products[p.ID] = p
	return nil
}

type orderStore struct{ tx *memTx }

func (st orderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	o, ok := st.tx.order(id)
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (st orderStore) GetForUpdate(ctx context.Context, id string) (orders.Order, error) {
	if err := st.tx.lock(ctx, orderKey(id)); err != nil {
		return orders.Order{}, err
	}
	return st.Get(ctx, id)
}

func (st orderStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (orders.Order, error) {
	for _, o := range st.tx.visibleOrders() {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, nil
		}
	}
	return orders.Order{}, orders.ErrOrderNotFound
}

func (st orderStore) HasOpenOrder(ctx context.Context, userID, productID, excludeID string) (bool, error) {
	for _, o := range st.tx.visibleOrders() {
		if o.ID != excludeID && o.UserID == userID && o.ProductID == productID && o.Status.HoldsStock() {
			return true, nil
		}
	}
	return false, nil
}

func (st orderStore) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range st.tx.visibleOrders() {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (st orderStore) Insert(ctx context.Context, o orders.Order) error {
	if _, ok := st.tx.order(o.ID); ok {
		return fmt.Errorf("%w: order %s", ErrDuplicateKey, o.ID)
	}
	if o.IdempotencyKey != "" {
		// seperti unique index: placement lain dengan key sama menunggu commit ini
		if err := st.tx.lock(ctx, idempotencyKey(o.UserID, o.IdempotencyKey)); err != nil {
			return err
		}
		if _, err := st.FindByIdempotencyKey(ctx, o.UserID, o.IdempotencyKey); err == nil {
			return fmt.Errorf("%w: %s", orders.ErrDuplicateIdempotencyKey, o.IdempotencyKey)
		}
	}
	if o.ProductID != "" {
		if _, ok := st.tx.product(o.ProductID); !ok {
			return orders.ErrProductNotFound
		}
	}
	delete(st.tx.deleted, o.ID)
	st.tx.orders[o.ID] = o
	return nil
}

func (st orderStore) Update(ctx context.Context, o orders.Order) error {
	if _, ok := st.tx.order(o.ID); !ok {
		return orders.ErrOrderNotFound
	}
	st.tx.orders[o.ID] = o
	return nil
}

func (st orderStore) Delete(ctx context.Context, id string) error {
	if _, ok := st.tx.order(id); !ok {
		return orders.ErrOrderNotFound
	}
	delete(st.tx.orders, id)
	st.tx.deleted[id] = true
	return nil
}
