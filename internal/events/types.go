package events

import "time"

// Event enumerates order lifecycle topics.
type Event string

const (
	EventOrderPut       Event = "order.put"
	EventOrderModified  Event = "order.modified"
	EventOrderSpawned   Event = "order.spawned"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventOrderCancelled Event = "order.cancelled"
	EventOrderCompleted Event = "order.completed"
	EventVenueError     Event = "venue.error"
)

// AllOrderEvents lists the topics streamed to operators.
var AllOrderEvents = []Event{
	EventOrderPut,
	EventOrderModified,
	EventOrderSpawned,
	EventOrderSubmitted,
	EventOrderRejected,
	EventOrderFilled,
	EventOrderCancelled,
	EventOrderCompleted,
	EventVenueError,
}

// OrderEvent is the payload published for every order topic.
type OrderEvent struct {
	Type     Event     `json:"type"`
	Tier     string    `json:"tier"`
	OrderID  int64     `json:"order_id"`
	ParentID int64     `json:"parent_id,omitempty"`
	Key      string    `json:"key"`
	Trade    []int64   `json:"trade,omitempty"`
	Fill     []int64   `json:"fill,omitempty"`
	Price    *float64  `json:"price,omitempty"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}
