package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// MarkProcessed claims an event id for a consumer. It returns false when the
// event was already claimed.
func MarkProcessed(ctx context.Context, rdb *redis.Client, service, eventID string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// ForgetProcessed drops a dedup claim so the event can be retried.
func ForgetProcessed(ctx context.Context, rdb *redis.Client, service, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}

type LowStockEntry struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type LowStockIndex struct {
	Redis *redis.Client
}

func (x *LowStockIndex) Mark(ctx context.Context, productID string, stock int) error {
	return x.Redis.ZAdd(ctx, KeyLowStock, redis.Z{Score: float64(stock), Member: productID}).Err()
}

func (x *LowStockIndex) Clear(ctx context.Context, productID string) error {
	return x.Redis.ZRem(ctx, KeyLowStock, productID).Err()
}

// List returns low-stock products, lowest stock first.
func (x *LowStockIndex) List(ctx context.Context) ([]LowStockEntry, error) {
	zs, err := x.Redis.ZRangeWithScores(ctx, KeyLowStock, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LowStockEntry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, LowStockEntry{ProductID: id, Stock: int(z.Score)})
	}
	return out, nil
}
