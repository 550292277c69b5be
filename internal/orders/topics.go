package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status.changed"
)

// NotificationTopics are consumed by the notifier.
var NotificationTopics = []string{TopicOrderCreated, TopicOrderCancelled, TopicOrderStatusChanged}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
