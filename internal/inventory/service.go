package inventory

import (
	"context"
	"fmt"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StockWatch follows order events and keeps the low-stock index current.
type StockWatch struct {
	Redis       *redis.Client
	LowStock    *redisx.LowStockIndex
	Threshold   int
	ServiceName string
	Log         *zap.Logger
}

// HandleOrderEvent: dipasang sebagai handler consumer.
func (s *StockWatch) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah sukses, commit saja
		s.logger().Warn("drop malformed event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	switch env.EventType {
	case orders.EventOrderPlaced, orders.EventOrderUpdated, orders.EventOrderDeleted:
	default:
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	first, err := redisx.MarkProcessed(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		// lepas klaim supaya redelivery bisa proses ulang
		if ferr := redisx.ForgetProcessed(ctx, s.Redis, s.ServiceName, env.EventID); ferr != nil {
			s.logger().Warn("forget dedup claim", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	return nil
}

func (s *StockWatch) apply(ctx context.Context, env orders.Envelope) error {
	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.ProductID == "" || p.StockAfter == nil {
		return nil
	}

	stock := *p.StockAfter
	if stock > s.Threshold {
		return s.LowStock.Clear(ctx, p.ProductID)
	}
	if err := s.LowStock.Mark(ctx, p.ProductID, stock); err != nil {
		return err
	}
	s.logger().Warn("product stock low",
		zap.String("product_id", p.ProductID),
		zap.Int("stock", stock),
		zap.Int("threshold", s.Threshold),
		zap.String("order_id", p.OrderID),
		zap.String("event_type", env.EventType),
		zap.String("trace_id", env.TraceID))
	return nil
}

func (s *StockWatch) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
