package domain

import "time"

// Типы событий жизненного цикла заказа.
const (
	TimelineOrderCreated       = "order.created"
	TimelineOrderUpdated       = "order.updated"
	TimelineOrderCanceled      = "order.canceled"
	TimelineOrderStatusChanged = "order.status_changed"
	TimelineOrderReturned      = "order.returned"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Status и Version фиксируют состояние заказа сразу после события.
type TimelineEvent struct {
	OrderID  string      `json:"orderId"`
	Type     string      `json:"type"`
	Status   OrderStatus `json:"status,omitempty"`
	Version  int64       `json:"version,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Occurred time.Time   `json:"occurred"`
}

// Precedes упорядочивает события по времени, а при равном времени по версии заказа.
func (e TimelineEvent) Precedes(other TimelineEvent) bool {
	if !e.Occurred.Equal(other.Occurred) {
		return e.Occurred.Before(other.Occurred)
	}
	return e.Version < other.Version
}
