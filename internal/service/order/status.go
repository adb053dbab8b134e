package order

import "github.com/vladislavdragonenkov/backoffice/internal/domain"

// validNext: разрешённые переходы для UpdateStatus.
// CANCELED достижим только из PENDING, RETURNED только через возврат.
var validNext = map[domain.OrderStatus]map[domain.OrderStatus]bool{
	domain.OrderStatusPending: {
		domain.OrderStatusCanceled:   true,
		domain.OrderStatusProcessing: true,
		domain.OrderStatusInTransit:  true,
		domain.OrderStatusDelivered:  true,
		domain.OrderStatusCompleted:  true,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusInTransit: true,
		domain.OrderStatusDelivered: true,
		domain.OrderStatusCompleted: true,
	},
	domain.OrderStatusInTransit: {
		domain.OrderStatusDelivered: true,
		domain.OrderStatusCompleted: true,
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusCompleted: true,
	},
	domain.OrderStatusCompleted: {},
	domain.OrderStatusCanceled:  {},
	domain.OrderStatusReturned:  {},
}

// CanTransition сообщает, разрешён ли переход статуса через UpdateStatus.
func CanTransition(from, to domain.OrderStatus) bool {
	return validNext[from][to]
}
