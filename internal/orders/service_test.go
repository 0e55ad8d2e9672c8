package orders_test

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/memstore"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"sync"
	"testing"
)

const (
	userA     = "user-a"
	userB     = "user-b"
	productID = "p1"
	address   = "Jl. Merdeka 1, Jakarta"
)

type eventLog struct {
	mu     sync.Mutex
	events []orders.Event
}

func (l *eventLog) Publish(_ context.Context, ev orders.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []orders.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]orders.Event(nil), l.events...)
}

type fixture struct {
	svc    *orders.Service
	store  *memstore.Store
	events *eventLog
}

func newFixture(t *testing.T, stock int, price string, policy orders.Policy) *fixture {
	t.Helper()
	st := memstore.New()
	st.PutProduct(orders.Product{
		ID:    productID,
		SKU:   "SKU-1",
		Name:  "Widget",
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	ev := &eventLog{}
	return &fixture{
		svc: &orders.Service{
			Tx:     st,
			Ledger: &inventory.Ledger{},
			Events: ev,
			Policy: policy,
		},
		store:  st,
		events: ev,
	}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, ok := f.store.Product(id)
	require.True(t, ok, "product %s missing", id)
	return p.Stock
}

func (f *fixture) place(t *testing.T, user string, qty int) orders.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		UserID:          user,
		ProductID:       productID,
		Quantity:        qty,
		ShippingAddress: address,
	})
	require.NoError(t, err)
	return o
}

func TestPlaceOrder_ReservesStockAndComputesTotal(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})

	o := f.place(t, userA, 3)

	assert.Equal(t, "300.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, "100.00", o.UnitPrice.StringFixed(2))
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, userA, o.UserID)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 7, f.stock(t, productID))

	stored, ok := f.store.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, 3, stored.Quantity)

	evs := f.events.all()
	require.Len(t, evs, 1)
	assert.Equal(t, orders.EventOrderPlaced, evs[0].Type)
	assert.Equal(t, o.ID, evs[0].Payload.OrderID)
	assert.Equal(t, "300.00", evs[0].Payload.TotalPrice)
	require.NotNil(t, evs[0].Payload.StockAfter)
	assert.Equal(t, 7, *evs[0].Payload.StockAfter)
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t, 2, "100.00", orders.Policy{})

	_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		UserID: userA, ProductID: productID, Quantity: 5, ShippingAddress: address,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.EqualError(t, err, "Cannot order 5. Only 2 left in stock.")
	var stockErr *orders.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	assert.Equal(t, 2, f.stock(t, productID))
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.events.all())
}

func TestPlaceOrder_ExactStockIsAllowed(t *testing.T) {
	f := newFixture(t, 4, "2.50", orders.Policy{})

	o := f.place(t, userA, 4)

	assert.Equal(t, "10.00", o.TotalPrice.StringFixed(2))
	assert.Equal(t, 0, f.stock(t, productID))
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   orders.PlaceOrderInput
		want error
	}{
		{"zero quantity", orders.PlaceOrderInput{UserID: userA, ProductID: productID, Quantity: 0, ShippingAddress: address}, orders.ErrInvalidQuantity},
		{"negative quantity", orders.PlaceOrderInput{UserID: userA, ProductID: productID, Quantity: -2, ShippingAddress: address}, orders.ErrInvalidQuantity},
		{"blank address", orders.PlaceOrderInput{UserID: userA, ProductID: productID, Quantity: 1, ShippingAddress: "   "}, orders.ErrInvalidShippingAddress},
		{"no user", orders.PlaceOrderInput{ProductID: productID, Quantity: 1, ShippingAddress: address}, orders.ErrMissingUser},
		{"unknown product", orders.PlaceOrderInput{UserID: userA, ProductID: "nope", Quantity: 1, ShippingAddress: address}, orders.ErrProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, "100.00", orders.Policy{})

			_, err := f.svc.PlaceOrder(context.Background(), tt.in)

			assert.ErrorIs(t, err, tt.want)
			assert.True(t, orders.IsCallerError(err))
			assert.Equal(t, 10, f.stock(t, productID))
			assert.Zero(t, f.store.OrderCount())
		})
	}
}

func TestPlaceOrder_TrimsShippingAddress(t *testing.T) {
	f := newFixture(t, 10, "1.00", orders.Policy{})

	o, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		UserID: userA, ProductID: productID, Quantity: 1, ShippingAddress: "  Jl. Sudirman 5 \n",
	})

	require.NoError(t, err)
	assert.Equal(t, "Jl. Sudirman 5", o.ShippingAddress)
}

func TestPlaceOrder_DuplicatePolicy(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		f.place(t, userA, 2)

		_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
			UserID: userA, ProductID: productID, Quantity: 1, ShippingAddress: address,
		})

		assert.ErrorIs(t, err, orders.ErrDuplicateOrder)
		assert.EqualError(t, err, "You have already ordered this product")
		assert.Equal(t, 8, f.stock(t, productID))
		assert.Equal(t, 1, f.store.OrderCount())
	})

	t.Run("other users are not affected", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		f.place(t, userA, 2)
		f.place(t, userB, 2)
		assert.Equal(t, 6, f.stock(t, productID))
	})

	t.Run("canceled order does not count", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		first := f.place(t, userA, 2)
		_, err := f.svc.UpdateOrderStatus(context.Background(), userA, first.ID, orders.StatusCanceled)
		require.NoError(t, err)

		f.place(t, userA, 3)
		assert.Equal(t, 7, f.stock(t, productID))
	})

	t.Run("allowed when configured", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{AllowDuplicateOrders: true})
		f.place(t, userA, 2)
		f.place(t, userA, 3)
		assert.Equal(t, 5, f.stock(t, productID))
		assert.Equal(t, 2, f.store.OrderCount())
	})
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{AllowDuplicateOrders: true})
	in := orders.PlaceOrderInput{
		UserID: userA, ProductID: productID, Quantity: 2, ShippingAddress: address, IdempotencyKey: "key-1",
	}

	first, err := f.svc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)
	second, err := f.svc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, f.stock(t, productID))
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Len(t, f.events.all(), 1)

	// same key from another user is a different request
	in.UserID = userB
	third, err := f.svc.PlaceOrder(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 6, f.stock(t, productID))
}

func TestPlaceOrder_ConcurrentPlacementsNeverOversell(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, 5, "10.00", orders.Policy{})

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i, user := range []string{userA, userB} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
					UserID: user, ProductID: productID, Quantity: 3, ShippingAddress: address,
				})
			}(i, user)
		}
		close(start)
		wg.Wait()

		var ok, insufficient int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, orders.ErrInsufficientStock):
				insufficient++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, insufficient)
		require.Equal(t, 2, f.stock(t, productID))
		require.Equal(t, 1, f.store.OrderCount())
	}
}

func TestPlaceOrder_ManyConcurrentBuyersDrainExactly(t *testing.T) {
	f := newFixture(t, 20, "1.00", orders.Policy{AllowDuplicateOrders: true})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
				UserID: userA, ProductID: productID, Quantity: 1, ShippingAddress: address,
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, successes)
	assert.Equal(t, 0, f.stock(t, productID))
	assert.Equal(t, 20, f.store.OrderCount())
}

type failingInsert struct{ orders.TxRunner }

func (f failingInsert) WithTx(ctx context.Context, fn func(context.Context, orders.Tx) error) error {
	return f.TxRunner.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, insertFailsTx{tx})
	})
}

type insertFailsTx struct{ orders.Tx }

func (t insertFailsTx) Orders() orders.OrderStore { return insertFailsStore{t.Tx.Orders()} }

type insertFailsStore struct{ orders.OrderStore }

var errDiskFull = errors.New("disk full")

func (insertFailsStore) Insert(context.Context, orders.Order) error { return errDiskFull }

func TestPlaceOrder_StorageFailureRollsBackReservation(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})
	f.svc.Tx = failingInsert{f.store}

	_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		UserID: userA, ProductID: productID, Quantity: 3, ShippingAddress: address,
	})

	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, orders.IsCallerError(err))
	assert.Equal(t, 10, f.stock(t, productID))
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.events.all())
}

func TestUpdateOrderQuantity(t *testing.T) {
	t.Run("increase consumes the difference", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 2)
		require.Equal(t, 8, f.stock(t, productID))

		up, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 5)

		require.NoError(t, err)
		assert.Equal(t, 5, up.Quantity)
		assert.Equal(t, "500.00", up.TotalPrice.StringFixed(2))
		assert.Equal(t, 5, f.stock(t, productID))
	})

	t.Run("decrease gives stock back", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 4)

		up, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 1)

		require.NoError(t, err)
		assert.Equal(t, "100.00", up.TotalPrice.StringFixed(2))
		assert.Equal(t, 9, f.stock(t, productID))
	})

	t.Run("increase beyond stock fails atomically", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 2)

		_, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 20)

		assert.ErrorIs(t, err, orders.ErrInsufficientStock)
		assert.EqualError(t, err, "Cannot add 18 more. Only 8 left in stock.")
		assert.Equal(t, 8, f.stock(t, productID))
		stored, _ := f.store.Order(o.ID)
		assert.Equal(t, 2, stored.Quantity)
		assert.Equal(t, "200.00", stored.TotalPrice.StringFixed(2))
	})

	t.Run("invalid quantity", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 2)

		_, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 0)

		assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
		assert.Equal(t, 8, f.stock(t, productID))
	})

	t.Run("total uses the price at placement", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 1)
		p, _ := f.store.Product(productID)
		p.Price = decimal.RequireFromString("150.00")
		f.store.PutProduct(p)

		up, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 2)

		require.NoError(t, err)
		assert.Equal(t, "200.00", up.TotalPrice.StringFixed(2))
	})

	t.Run("same quantity is a no-op", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 2)

		up, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 2)

		require.NoError(t, err)
		assert.Equal(t, o.ID, up.ID)
		assert.Equal(t, 8, f.stock(t, productID))
		assert.Len(t, f.events.all(), 1)
	})

	t.Run("publishes update with previous quantity", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 2)

		_, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 3)
		require.NoError(t, err)

		evs := f.events.all()
		require.Len(t, evs, 2)
		assert.Equal(t, orders.EventOrderUpdated, evs[1].Type)
		assert.Equal(t, 2, evs[1].Payload.PreviousQuantity)
		assert.Equal(t, 3, evs[1].Payload.Quantity)
		require.NotNil(t, evs[1].Payload.StockAfter)
		assert.Equal(t, 7, *evs[1].Payload.StockAfter)
	})
}

func TestForeignOrdersLookMissing(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})
	o := f.place(t, userA, 2)
	ctx := context.Background()

	_, err := f.svc.GetOrder(ctx, userB, o.ID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.svc.UpdateOrderQuantity(ctx, userB, o.ID, 5)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.svc.UpdateOrderStatus(ctx, userB, o.ID, orders.StatusCanceled)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	err = f.svc.DeleteOrder(ctx, userB, o.ID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	assert.Equal(t, 8, f.stock(t, productID))
	_, ok := f.store.Order(o.ID)
	assert.True(t, ok)
}

func TestDeleteOrder(t *testing.T) {
	t.Run("restores held stock", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 4)
		require.Equal(t, 6, f.stock(t, productID))

		require.NoError(t, f.svc.DeleteOrder(context.Background(), userA, o.ID))

		assert.Equal(t, 10, f.stock(t, productID))
		_, ok := f.store.Order(o.ID)
		assert.False(t, ok)

		evs := f.events.all()
		require.Len(t, evs, 2)
		assert.Equal(t, orders.EventOrderDeleted, evs[1].Type)
		require.NotNil(t, evs[1].Payload.StockAfter)
		assert.Equal(t, 10, *evs[1].Payload.StockAfter)
	})

	t.Run("canceled order releases nothing more", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 4)
		_, err := f.svc.UpdateOrderStatus(context.Background(), userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)
		require.Equal(t, 10, f.stock(t, productID))

		require.NoError(t, f.svc.DeleteOrder(context.Background(), userA, o.ID))
		assert.Equal(t, 10, f.stock(t, productID))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		err := f.svc.DeleteOrder(context.Background(), userA, "missing")
		assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	})
}

func TestOrdersSurviveProductDeletion(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})
	o := f.place(t, userA, 2)
	f.store.DeleteProduct(productID)

	stored, ok := f.store.Order(o.ID)
	require.True(t, ok)
	assert.False(t, stored.HasProduct())

	up, err := f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, "500.00", up.TotalPrice.StringFixed(2))

	require.NoError(t, f.svc.DeleteOrder(context.Background(), userA, o.ID))
	evs := f.events.all()
	assert.Nil(t, evs[len(evs)-1].Payload.StockAfter)
}

func TestUpdateOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel releases and reopen reserves", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)

		canceled, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCanceled, canceled.Status)
		assert.Equal(t, 10, f.stock(t, productID))

		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusPending)
		require.NoError(t, err)
		assert.Equal(t, 7, f.stock(t, productID))
	})

	t.Run("reopen fails when stock is gone", func(t *testing.T) {
		f := newFixture(t, 5, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)
		_, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)
		f.place(t, userB, 4)

		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusPending)

		assert.ErrorIs(t, err, orders.ErrInsufficientStock)
		assert.Equal(t, 1, f.stock(t, productID))
		stored, _ := f.store.Order(o.ID)
		assert.Equal(t, orders.StatusCanceled, stored.Status)
	})

	t.Run("reopen respects duplicate policy", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 1)
		_, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)
		f.place(t, userA, 1)

		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusPending)
		assert.ErrorIs(t, err, orders.ErrDuplicateOrder)
		assert.Equal(t, 9, f.stock(t, productID))
	})

	t.Run("shipping keeps stock held", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)

		_, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusShipped)
		require.NoError(t, err)
		assert.Equal(t, 7, f.stock(t, productID))
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)

		_, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.Status("Lost"))
		assert.ErrorIs(t, err, orders.ErrInvalidStatus)
	})

	t.Run("transitions are free by default", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)

		up, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusDelivered)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusDelivered, up.Status)
	})

	t.Run("enforced transitions", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{EnforceStatusTransitions: true})
		o := f.place(t, userA, 3)

		_, err := f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusDelivered)
		assert.ErrorIs(t, err, orders.ErrInvalidTransition)
		var te *orders.InvalidTransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, orders.StatusPending, te.From)

		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusPaymentConfirmed)
		require.NoError(t, err)
		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)
		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusRefunded)
		require.NoError(t, err)
		assert.Equal(t, 10, f.stock(t, productID))
	})
}

func TestUpdateOrder_QuantityAndStatusTogether(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})
	o := f.place(t, userA, 2)
	qty, st := 6, orders.StatusCanceled

	up, err := f.svc.UpdateOrder(context.Background(), userA, o.ID, orders.OrderPatch{Quantity: &qty, Status: &st})

	require.NoError(t, err)
	assert.Equal(t, 6, up.Quantity)
	assert.Equal(t, orders.StatusCanceled, up.Status)
	assert.Equal(t, 10, f.stock(t, productID))
}

func TestListOrders_OnlyCallersNewestFirst(t *testing.T) {
	f := newFixture(t, 10, "1.00", orders.Policy{AllowDuplicateOrders: true})
	first := f.place(t, userA, 1)
	second := f.place(t, userA, 1)
	f.place(t, userB, 1)

	list, err := f.svc.ListOrders(context.Background(), userA)

	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
	assert.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

// Stock plus the quantity held by open orders must always equal the initial
// stock, whatever sequence of operations runs.
func TestStockConservationUnderRandomOperations(t *testing.T) {
	const initial = 30
	f := newFixture(t, initial, "5.00", orders.Policy{AllowDuplicateOrders: true})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	users := []string{userA, userB, "user-c"}
	statuses := []orders.Status{
		orders.StatusPending, orders.StatusPaymentConfirmed, orders.StatusShipped,
		orders.StatusCanceled, orders.StatusRefunded,
	}

	var ids []string
	owner := map[string]string{}
	for i := 0; i < 400; i++ {
		var err error
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) == 0:
			u := users[rng.Intn(len(users))]
			var o orders.Order
			o, err = f.svc.PlaceOrder(ctx, orders.PlaceOrderInput{
				UserID: u, ProductID: productID, Quantity: 1 + rng.Intn(8), ShippingAddress: address,
			})
			if err == nil {
				ids = append(ids, o.ID)
				owner[o.ID] = u
			}
		case op == 1:
			id := ids[rng.Intn(len(ids))]
			_, err = f.svc.UpdateOrderQuantity(ctx, owner[id], id, 1+rng.Intn(8))
		case op == 2:
			id := ids[rng.Intn(len(ids))]
			_, err = f.svc.UpdateOrderStatus(ctx, owner[id], id, statuses[rng.Intn(len(statuses))])
		default:
			k := rng.Intn(len(ids))
			id := ids[k]
			err = f.svc.DeleteOrder(ctx, owner[id], id)
			if err == nil {
				ids = append(ids[:k], ids[k+1:]...)
			}
		}
		if err != nil {
			require.True(t, orders.IsCallerError(err), "op %d: %v", i, err)
		}

		stock := f.stock(t, productID)
		require.GreaterOrEqual(t, stock, 0)
		held := 0
		for _, id := range ids {
			o, ok := f.store.Order(id)
			require.True(t, ok)
			held += o.HeldQuantity()
			require.Equal(t, o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity))).StringFixed(2), o.TotalPrice.StringFixed(2))
		}
		require.Equal(t, initial, stock+held, "op %d", i)
	}
}

type mapCache struct {
	mu     sync.Mutex
	orders map[string]orders.Order
}

func newMapCache() *mapCache { return &mapCache{orders: map[string]orders.Order{}} }

func (c *mapCache) GetOrder(_ context.Context, id string) (orders.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok, nil
}

func (c *mapCache) SetOrder(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.ID] = o
	return nil
}

func (c *mapCache) InvalidateOrder(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	return nil
}

func (c *mapCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.orders[id]
	return ok
}

// afterFirstTx runs hook once, right after the next transaction finishes.
type afterFirstTx struct {
	orders.TxRunner
	hook func()
}

func (a *afterFirstTx) WithTx(ctx context.Context, fn func(context.Context, orders.Tx) error) error {
	err := a.TxRunner.WithTx(ctx, fn)
	if h := a.hook; h != nil {
		a.hook = nil
		h()
	}
	return err
}

func TestGetOrder_CacheNeverOutlivesMutations(t *testing.T) {
	t.Run("delete between read and cache fill", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)
		cache := newMapCache()
		f.svc.Cache = cache
		ctx := context.Background()

		f.svc.Tx = &afterFirstTx{TxRunner: f.store, hook: func() {
			require.NoError(t, f.svc.DeleteOrder(ctx, userA, o.ID))
		}}

		_, err := f.svc.GetOrder(ctx, userA, o.ID)
		require.NoError(t, err)
		assert.False(t, cache.has(o.ID))

		_, err = f.svc.GetOrder(ctx, userA, o.ID)
		assert.ErrorIs(t, err, orders.ErrOrderNotFound)
		assert.Equal(t, 10, f.stock(t, productID))
	})

	t.Run("update between read and cache fill", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)
		cache := newMapCache()
		f.svc.Cache = cache
		ctx := context.Background()

		f.svc.Tx = &afterFirstTx{TxRunner: f.store, hook: func() {
			_, err := f.svc.UpdateOrderQuantity(ctx, userA, o.ID, 5)
			require.NoError(t, err)
		}}

		_, err := f.svc.GetOrder(ctx, userA, o.ID)
		require.NoError(t, err)

		got, err := f.svc.GetOrder(ctx, userA, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Quantity)
		assert.Equal(t, "500.00", got.TotalPrice.StringFixed(2))
	})

	t.Run("reads are served from cache until invalidated", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 3)
		cache := newMapCache()
		f.svc.Cache = cache
		ctx := context.Background()

		_, err := f.svc.GetOrder(ctx, userA, o.ID)
		require.NoError(t, err)
		assert.True(t, cache.has(o.ID))

		_, err = f.svc.GetOrder(ctx, userB, o.ID)
		assert.ErrorIs(t, err, orders.ErrOrderNotFound)

		_, err = f.svc.UpdateOrderStatus(ctx, userA, o.ID, orders.StatusShipped)
		require.NoError(t, err)
		assert.False(t, cache.has(o.ID))
	})
}

func TestPlaceOrder_SameKeyOnTwoProductsPlacesOnce(t *testing.T) {
	f := newFixture(t, 10, "100.00", orders.Policy{})
	f.store.PutProduct(orders.Product{
		ID: "p2", SKU: "SKU-2", Name: "Gadget", Price: decimal.RequireFromString("50.00"), Stock: 10,
	})

	const n = 8
	var (
		wg     sync.WaitGroup
		placed = make([]orders.Order, n)
		errs   = make([]error, n)
	)
	for i := 0; i < n; i++ {
		pid := productID
		if i%2 == 1 {
			pid = "p2"
		}
		wg.Add(1)
		go func(i int, pid string) {
			defer wg.Done()
			placed[i], errs[i] = f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
				UserID: userA, ProductID: pid, Quantity: 2, ShippingAddress: address, IdempotencyKey: "checkout-1",
			})
		}(i, pid)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, placed[0].ID, placed[i].ID)
	}
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, 18, f.stock(t, productID)+f.stock(t, "p2"))
	assert.Len(t, f.events.all(), 1)
}

func TestQuantityBounds(t *testing.T) {
	t.Run("placement beyond integer column", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
			UserID: userA, ProductID: productID, Quantity: orders.MaxQuantity + 1, ShippingAddress: address,
		})
		var qe *orders.InvalidQuantityError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, orders.MaxQuantity, qe.Limit)
	})

	t.Run("placement whose total overflows", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		_, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderInput{
			UserID: userA, ProductID: productID, Quantity: 100_000_000, ShippingAddress: address,
		})
		var qe *orders.InvalidQuantityError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, 99_999_999, qe.Limit)
		assert.Equal(t, 10, f.stock(t, productID))
	})

	t.Run("canceled order cannot grow past the limit", func(t *testing.T) {
		f := newFixture(t, 10, "100.00", orders.Policy{})
		o := f.place(t, userA, 1)
		_, err := f.svc.UpdateOrderStatus(context.Background(), userA, o.ID, orders.StatusCanceled)
		require.NoError(t, err)

		_, err = f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 3_000_000_000)
		assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
		_, err = f.svc.UpdateOrderQuantity(context.Background(), userA, o.ID, 100_000_000)
		assert.ErrorIs(t, err, orders.ErrInvalidQuantity)

		stored, ok := f.store.Order(o.ID)
		require.True(t, ok)
		assert.Equal(t, 1, stored.Quantity)
	})

	t.Run("limit follows unit price", func(t *testing.T) {
		assert.Equal(t, orders.MaxQuantity, orders.QuantityLimit(decimal.Zero))
		assert.Equal(t, orders.MaxQuantity, orders.QuantityLimit(decimal.RequireFromString("0.01")))
		assert.Equal(t, 99_999_999, orders.QuantityLimit(decimal.RequireFromString("100.00")))
	})
}
