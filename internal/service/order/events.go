package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// AppendEvent пишет событие в timeline и outbox в рамках текущей транзакции.
func AppendEvent(ctx context.Context, uow domain.UnitOfWork, order domain.Order, eventType, reason string) error {
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	if err := uow.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Status:   order.Status,
		Version:  order.Version,
		Reason:   reason,
		Occurred: occurred,
	}); err != nil {
		return fmt.Errorf("append timeline %s: %w", eventType, err)
	}

	payload, err := json.Marshal(domain.NewOrderEvent(eventType, order, reason, occurred))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}
