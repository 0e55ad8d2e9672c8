package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"time"
)

// OrderCache keeps recently read orders and idempotency keys in Redis. The
// order store remains the source of truth; every miss falls back to it.
type OrderCache struct {
	Redis *redis.Client
}

var (
	_ orders.OrderCache       = (*OrderCache)(nil)
	_ orders.IdempotencyCache = (*OrderCache)(nil)
)

type cachedOrder struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ProductID       string          `json:"product_id,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	ShippingAddress string          `json:"shipping_address"`
	Status          orders.Status   `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (c *OrderCache) GetOrder(ctx context.Context, orderID string) (orders.Order, bool, error) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrder, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var co cachedOrder
	if err := json.Unmarshal(b, &co); err != nil {
		return orders.Order{}, false, fmt.Errorf("decode cached order %s: %w", orderID, err)
	}
	return orders.Order(co), true, nil
}

func (c *OrderCache) SetOrder(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(cachedOrder(o))
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err()
}

func (c *OrderCache) InvalidateOrder(ctx context.Context, orderID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(KeyOrder, orderID)).Err()
}

func (c *OrderCache) LookupOrderID(ctx context.Context, userID, key string) (string, bool, error) {
	id, err := c.Redis.Get(ctx, fmt.Sprintf(KeyIdemOrderPlace, userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *OrderCache) RememberOrderID(ctx context.Context, userID, key, orderID string) error {
	return c.Redis.Set(ctx, fmt.Sprintf(KeyIdemOrderPlace, userID, key), orderID, TTLIdempotency).Err()
}
