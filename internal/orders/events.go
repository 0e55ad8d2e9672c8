package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced  = "OrderPlaced"
	EventOrderUpdated = "OrderUpdated"
	EventOrderDeleted = "OrderDeleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// Event is what the service emits after a committed mutation. Transport
// adapters wrap it into an Envelope.
type Event struct {
	Type       string
	OccurredAt time.Time
	Payload    OrderEventPayload
}

type OrderEventPayload struct {
	OrderID          string `json:"order_id"`
	UserID           string `json:"user_id"`
	ProductID        string `json:"product_id,omitempty"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity int    `json:"previous_quantity,omitempty"`
	Status           Status `json:"status"`
	TotalPrice       string `json:"total_price"`
	// StockAfter is nil when the order no longer references a product.
	StockAfter *int `json:"stock_after,omitempty"`
}

func newEvent(typ string, at time.Time, o Order, prevQty int, stock *int) Event {
	return Event{
		Type:       typ,
		OccurredAt: at,
		Payload: OrderEventPayload{
			OrderID:          o.ID,
			UserID:           o.UserID,
			ProductID:        o.ProductID,
			Quantity:         o.Quantity,
			PreviousQuantity: prevQty,
			Status:           o.Status,
			TotalPrice:       o.TotalPrice.StringFixed(2),
			StockAfter:       stock,
		},
	}
}
