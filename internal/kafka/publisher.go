package kafka

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"strconv"
)

const eventVersion = 1

// OrderEvents publishes order events to one producer per topic.
type OrderEvents struct {
	Producers map[string]*Producer // key: topic
	Service   string
}

var _ orders.EventPublisher = (*OrderEvents)(nil)

func NewOrderEvents(brokers []string, service string, buf int, log *zap.Logger) *OrderEvents {
	ps := make(map[string]*Producer, len(orders.AllTopics()))
	for _, t := range orders.AllTopics() {
		ps[t] = NewProducer(brokers, t, buf, log)
	}
	return &OrderEvents{Producers: ps, Service: service}
}

func (e *OrderEvents) Start(ctx context.Context) {
	for _, p := range e.Producers {
		p.Start(ctx)
	}
}

// Close stops accepting events and waits for buffered ones to be written.
func (e *OrderEvents) Close() {
	for _, p := range e.Producers {
		p.Close()
	}
	for _, p := range e.Producers {
		p.WaitClosed()
	}
}

func (e *OrderEvents) Publish(ctx context.Context, ev orders.Event) error {
	topic, ok := orders.TopicFor(ev.Type)
	if !ok {
		return fmt.Errorf("kafka: no topic for event %q", ev.Type)
	}
	p, ok := e.Producers[topic]
	if !ok {
		return fmt.Errorf("kafka: no producer for topic %q", topic)
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  eventVersion,
		OccurredAt:    ev.OccurredAt.UTC(),
		Producer:      e.Service,
		TraceID:       traceID(ctx),
		CorrelationID: ev.Payload.OrderID,
		Payload:       MustMarshal(ev.Payload),
	}
	return p.Publish(ctx, orders.PartitionKey(ev.Payload.OrderID), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
