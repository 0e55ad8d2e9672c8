package redisx

import "time"

const (
	// Idempotency place order: idem:order:place:{user_id}:{key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// Cache order: order:{order_id} -> JSON order
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sorted set product_id -> stock for products at or under the threshold
	KeyLowStock = "inventory:low_stock"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
