package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
)

// Topics lists every topic the order service writes to.
var Topics = []string{TopicOrderCreated, TopicOrderStatusChanged}

// TopicFor maps an event type to its topic; unknown types return "".
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	}
	return ""
}

// Partition key = order id, supaya semua event 1 order maintain urutan.
func PartitionKey(correlationID string) []byte { return []byte(correlationID) }
