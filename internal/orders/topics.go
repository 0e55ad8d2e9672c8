package orders

const (
	TopicOrderPlaced  = "shop.order.placed"
	TopicOrderUpdated = "shop.order.updated"
	TopicOrderDeleted = "shop.order.deleted"
)

var topicByEvent = map[string]string{
	EventOrderPlaced:  TopicOrderPlaced,
	EventOrderUpdated: TopicOrderUpdated,
	EventOrderDeleted: TopicOrderDeleted,
}

func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

func AllTopics() []string {
	return []string{TopicOrderPlaced, TopicOrderUpdated, TopicOrderDeleted}
}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
