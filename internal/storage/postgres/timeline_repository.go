package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// timelineRepository пишет историю заказа в той же транзакции, что и сам заказ.
type timelineRepository struct {
	q querier
}

func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	occurred := event.Occurred.UTC()
	if event.Occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, status, order_version, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.OrderID, event.Type, string(event.Status), event.Version, event.Reason, occurred)
	if err != nil {
		return classify(fmt.Errorf("record %s for order %s: %w", event.Type, event.OrderID, err))
	}
	return nil
}

// List отдаёт историю заказа; порядок совпадает с domain.TimelineEvent.Precedes.
func (r timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT type, status, order_version, reason, occurred_at
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred_at, order_version, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var history []domain.TimelineEvent
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		var status string
		if err := rows.Scan(&event.Type, &status, &event.Version, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline of order %s: %w", orderID, err)
		}
		event.Status = domain.OrderStatus(status)
		event.Occurred = event.Occurred.UTC()
		history = append(history, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline of order %s: %w", orderID, err)
	}
	if history == nil {
		history = []domain.TimelineEvent{}
	}
	return history, nil
}

var _ domain.TimelineRepository = timelineRepository{}
