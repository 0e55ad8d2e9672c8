package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"strings"
	"time"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-shop-orders/internal/orders")

// Service places, updates and deletes orders while keeping product stock in
// line with the quantities the orders hold. Tx and Ledger are required; the
// remaining collaborators are optional.
type Service struct {
	Tx          TxRunner
	Ledger      Ledger
	Events      EventPublisher
	Cache       OrderCache
	Idempotency IdempotencyCache
	Policy      Policy
	Log         *zap.Logger
	Now         func() time.Time
	NewID       func() string
}

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("product.id", in.ProductID),
		attribute.Int("order.quantity", in.Quantity),
	))
	defer func() { endSpan(span, err) }()

	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	if err := validatePlacement(in); err != nil {
		return Order{}, err
	}

	if in.IdempotencyKey != "" {
		if prev, ok := s.replayFromCache(ctx, in); ok {
			return prev, nil
		}
	}

	var (
		placed     Order
		stockAfter int
		replayed   bool
	)
	err = s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		// lock product row dulu: semua placement ke product yang sama jadi serial
		p, err := tx.Products().GetForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}

		if in.IdempotencyKey != "" {
			prev, err := tx.Orders().FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
			switch {
			case err == nil:
				placed, replayed = prev, true
				return nil
			case !errors.Is(err, ErrOrderNotFound):
				return err
			}
		}

		if err := checkQuantity(in.Quantity, QuantityLimit(p.Price)); err != nil {
			return err
		}
		if in.Quantity > p.Stock {
			return &InsufficientStockError{ProductID: p.ID, Requested: in.Quantity, Available: p.Stock}
		}
		if !s.Policy.AllowDuplicateOrders {
			dup, err := tx.Orders().HasOpenOrder(ctx, in.UserID, p.ID, "")
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateOrderError{UserID: in.UserID, ProductID: p.ID}
			}
		}

		total := totalFor(p.Price, in.Quantity)
		after, err := s.Ledger.Reserve(ctx, tx.Products(), p.ID, in.Quantity)
		if err != nil {
			return err
		}

		now := s.now()
		placed = Order{
			ID:              s.newID(),
			UserID:          in.UserID,
			ProductID:       p.ID,
			Quantity:        in.Quantity,
			UnitPrice:       p.Price,
			TotalPrice:      total,
			ShippingAddress: in.ShippingAddress,
			Status:          StatusPending,
			IdempotencyKey:  in.IdempotencyKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Orders().Insert(ctx, placed); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		stockAfter = after.Stock
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// kalah balapan dengan placement lain (product berbeda) yang memakai key sama
		if prev, ferr := s.findByKey(ctx, in.UserID, in.IdempotencyKey); ferr == nil {
			placed, replayed, err = prev, true, nil
		}
	}
	if err != nil {
		s.logFailure("place order", err,
			zap.String("user_id", in.UserID),
			zap.String("product_id", in.ProductID),
			zap.Int("quantity", in.Quantity))
		return Order{}, err
	}

	s.rememberKey(ctx, placed)
	if replayed {
		return placed, nil
	}

	s.logger().Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", placed.UserID),
		zap.String("product_id", placed.ProductID),
		zap.Int("quantity", placed.Quantity),
		zap.String("total_price", placed.TotalPrice.StringFixed(2)),
		zap.Int("stock_after", stockAfter))
	s.publish(ctx, newEvent(EventOrderPlaced, placed.CreatedAt, placed, 0, &stockAfter))
	return placed, nil
}

// OrderPatch lists the fields of an order a caller may change. Nil fields are
// left as they are.
type OrderPatch struct {
	Quantity *int
	Status   *Status
}

func (s *Service) UpdateOrderQuantity(ctx context.Context, userID, orderID string, qty int) (Order, error) {
	return s.UpdateOrder(ctx, userID, orderID, OrderPatch{Quantity: &qty})
}

// UpdateOrderStatus changes the status of an order. Moving into Canceled or
// Refunded gives the held stock back; moving out of them reserves it again.
func (s *Service) UpdateOrderStatus(ctx context.Context, userID, orderID string, status Status) (Order, error) {
	return s.UpdateOrder(ctx, userID, orderID, OrderPatch{Status: &status})
}

// UpdateOrder applies patch in one transaction. The stock held by the order
// moves by the difference between its old and new held quantity.
func (s *Service) UpdateOrder(ctx context.Context, userID, orderID string, patch OrderPatch) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return Order{}, ErrMissingUser
	}
	if patch.Quantity != nil {
		span.SetAttributes(attribute.Int("order.quantity", *patch.Quantity))
		if err := checkQuantity(*patch.Quantity, MaxQuantity); err != nil {
			return Order{}, err
		}
	}
	if patch.Status != nil {
		span.SetAttributes(attribute.String("order.status", string(*patch.Status)))
		if !patch.Status.Valid() {
			return Order{}, ErrInvalidStatus
		}
	}

	var (
		cur, updated Order
		stock        *int
		changed      bool
	)
	err = s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if cur, err = lockOwned(ctx, tx, userID, orderID); err != nil {
			return err
		}
		next := cur
		if q := patch.Quantity; q != nil && *q != cur.Quantity {
			if err := checkQuantity(*q, QuantityLimit(cur.UnitPrice)); err != nil {
				return err
			}
			next.Quantity = *q
			next.TotalPrice = totalFor(cur.UnitPrice, *q)
			changed = true
		}
		if st := patch.Status; st != nil && *st != cur.Status {
			if s.Policy.EnforceStatusTransitions && !CanTransition(cur.Status, *st) {
				return &InvalidTransitionError{From: cur.Status, To: *st}
			}
			next.Status = *st
			changed = true
		}
		if !changed {
			updated = cur
			return nil
		}
		next.UpdatedAt = s.now()

		reopening := !cur.Status.HoldsStock() && next.Status.HoldsStock() && cur.HasProduct()
		if reopening && !s.Policy.AllowDuplicateOrders {
			// lock product dulu supaya cek duplikat serial dengan PlaceOrder
			if _, err := tx.Products().GetForUpdate(ctx, cur.ProductID); err != nil && !errors.Is(err, ErrProductNotFound) {
				return err
			}
			dup, err := tx.Orders().HasOpenOrder(ctx, cur.UserID, cur.ProductID, cur.ID)
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateOrderError{UserID: cur.UserID, ProductID: cur.ProductID}
			}
		}

		if stock, err = s.reconcile(ctx, tx, cur, next); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, next); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		fields := []zap.Field{zap.String("order_id", orderID)}
		if patch.Quantity != nil {
			fields = append(fields, zap.Int("quantity", *patch.Quantity))
		}
		if patch.Status != nil {
			fields = append(fields, zap.String("status", string(*patch.Status)))
		}
		s.logFailure("update order", err, fields...)
		return Order{}, err
	}
	if !changed {
		return updated, nil
	}

	s.logger().Info("order updated",
		zap.String("order_id", updated.ID),
		zap.Int("previous_quantity", cur.Quantity),
		zap.Int("quantity", updated.Quantity),
		zap.String("previous_status", string(cur.Status)),
		zap.String("status", string(updated.Status)))
	s.invalidate(ctx, updated.ID)
	s.publish(ctx, newEvent(EventOrderUpdated, updated.UpdatedAt, updated, cur.Quantity, stock))
	return updated, nil
}

func (s *Service) DeleteOrder(ctx context.Context, userID, orderID string) (err error) {
	ctx, span := tracer.Start(ctx, "orders.DeleteOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return ErrMissingUser
	}

	var (
		deleted Order
		stock   *int
	)
	err = s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := lockOwned(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if held := cur.HeldQuantity(); cur.HasProduct() && held > 0 {
			p, err := s.Ledger.Release(ctx, tx.Products(), cur.ProductID, held)
			switch {
			case errors.Is(err, ErrProductNotFound):
				// product sudah dihapus, tidak ada stok yang dikembalikan
			case err != nil:
				return err
			default:
				stock = &p.Stock
			}
		}
		if err := tx.Orders().Delete(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		deleted = cur
		return nil
	})
	if err != nil {
		s.logFailure("delete order", err, zap.String("order_id", orderID))
		return err
	}

	s.logger().Info("order deleted",
		zap.String("order_id", deleted.ID),
		zap.Int("released", deleted.HeldQuantity()))
	s.invalidate(ctx, deleted.ID)
	s.publish(ctx, newEvent(EventOrderDeleted, s.now(), deleted, deleted.Quantity, stock))
	return nil
}

// GetOrder reads through the cache. Cache entries are only written while the
// order row is locked, so a concurrent update or delete cannot leave a stale
// copy behind.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	if userID == "" {
		return Order{}, ErrMissingUser
	}
	if s.Cache != nil {
		o, ok, err := s.Cache.GetOrder(ctx, orderID)
		if err != nil {
			s.logger().Warn("order cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if ok {
			if o.UserID != userID {
				return Order{}, ErrOrderNotFound
			}
			return o, nil
		}
	}

	var o Order
	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		// cache diisi selagi row terkunci: mutasi berikutnya baru commit
		// (lalu invalidate) setelah penulisan ini selesai
		if o, err = tx.Orders().GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		s.cacheOrder(ctx, o)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	var out []Order
	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Orders().ListByUser(ctx, userID)
		return err
	})
	return out, err
}

func (s *Service) GetProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		p, err = tx.Products().Get(ctx, productID)
		return err
	})
	return p, err
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Products().List(ctx)
		return err
	})
	return out, err
}

// reconcile applies the change in held quantity between cur and next to the
// ledger and returns the resulting stock, or nil when there is no product.
func (s *Service) reconcile(ctx context.Context, tx Tx, cur, next Order) (*int, error) {
	if !cur.HasProduct() {
		return nil, nil
	}
	delta := next.HeldQuantity() - cur.HeldQuantity()
	p, err := s.Ledger.Adjust(ctx, tx.Products(), cur.ProductID, -delta)
	if errors.Is(err, ErrProductNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p.Stock, nil
}

// lockOwned locks the order row. Orders of other users look the same as
// missing ones.
func lockOwned(ctx context.Context, tx Tx, userID, orderID string) (Order, error) {
	o, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func validatePlacement(in PlaceOrderInput) error {
	switch {
	case in.UserID == "":
		return ErrMissingUser
	case in.Quantity <= 0 || in.Quantity > MaxQuantity:
		return checkQuantity(in.Quantity, MaxQuantity)
	case in.ShippingAddress == "":
		return ErrInvalidShippingAddress
	}
	return nil
}

func (s *Service) replayFromCache(ctx context.Context, in PlaceOrderInput) (Order, bool) {
	if s.Idempotency == nil {
		return Order{}, false
	}
	id, ok, err := s.Idempotency.LookupOrderID(ctx, in.UserID, in.IdempotencyKey)
	if err != nil || !ok {
		return Order{}, false
	}
	o, err := s.GetOrder(ctx, in.UserID, id)
	if err != nil {
		return Order{}, false
	}
	return o, true
}

func (s *Service) findByKey(ctx context.Context, userID, key string) (Order, error) {
	var o Order
	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().FindByIdempotencyKey(ctx, userID, key)
		return err
	})
	return o, err
}

func (s *Service) rememberKey(ctx context.Context, o Order) {
	if s.Idempotency == nil || o.IdempotencyKey == "" {
		return
	}
	if err := s.Idempotency.RememberOrderID(ctx, o.UserID, o.IdempotencyKey, o.ID); err != nil {
		s.logger().Warn("remember idempotency key failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *Service) cacheOrder(ctx context.Context, o Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetOrder(ctx, o); err != nil {
		s.logger().Warn("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.InvalidateOrder(ctx, orderID); err != nil {
		s.logger().Warn("order cache invalidation failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.logger().Warn("publish event failed",
			zap.String("event_type", ev.Type),
			zap.String("order_id", ev.Payload.OrderID),
			zap.Error(err))
	}
}

func (s *Service) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsCallerError(err) {
		s.logger().Info(op+" rejected", fields...)
		return
	}
	s.logger().Error(op+" failed", fields...)
}

// IsCallerError reports whether err is a validation or not-found failure the
// caller can correct, as opposed to a storage failure.
func IsCallerError(err error) bool {
	for _, target := range []error{
		ErrProductNotFound, ErrOrderNotFound, ErrInsufficientStock, ErrInvalidQuantity,
		ErrInvalidShippingAddress, ErrMissingUser, ErrInvalidStatus, ErrDuplicateOrder,
		ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
