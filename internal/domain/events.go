package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutboxAggregateOrder: тип агрегата для событий заказа.
const OutboxAggregateOrder = "order"

// OrderEvent: полезная нагрузка события заказа в outbox и Kafka.
type OrderEvent struct {
	EventType   string          `json:"event_type"`
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Status      OrderStatus     `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(eventType string, order Order, reason string, at time.Time) OrderEvent {
	return OrderEvent{
		EventType:   eventType,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		Reason:      reason,
		TotalAmount: order.TotalAmount,
		Version:     order.Version,
		Timestamp:   at,
	}
}
