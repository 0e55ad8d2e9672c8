package orders

type Status string

const (
	StatusPending          Status = "Pending"
	StatusPaymentConfirmed Status = "PaymentConfirmed"
	StatusShipped          Status = "Shipped"
	StatusDelivered        Status = "Delivered"
	StatusCanceled         Status = "Canceled"
	StatusRefunded         Status = "Refunded"
)

// Only consulted when Policy.EnforceStatusTransitions is on.
var validNext = map[Status]map[Status]bool{
	StatusPending:          {StatusPaymentConfirmed: true, StatusCanceled: true},
	StatusPaymentConfirmed: {StatusShipped: true, StatusCanceled: true},
	StatusShipped:          {StatusDelivered: true, StatusCanceled: true},
	StatusDelivered:        {},
	StatusCanceled:         {StatusRefunded: true},
	StatusRefunded:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// HoldsStock reports whether an order in this status keeps its quantity out of
// stock. Canceled and refunded orders hold nothing.
func (s Status) HoldsStock() bool {
	return s != StatusCanceled && s != StatusRefunded
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
