package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// timelineRepository копит события заказа до commit.
type timelineRepository struct {
	uow *unitOfWork
}

// Append добавляет событие в транзакцию.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	r.uow.timeline = append(r.uow.timeline, event)
	return nil
}

// List возвращает события заказа в хронологическом порядке, включая ещё не зафиксированные.
func (r timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events, err := r.uow.store.Timeline(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, ev := range r.uow.timeline {
		if ev.OrderID == orderID {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Precedes(events[j])
	})
	return events, nil
}

// outboxWriter откладывает события outbox до commit транзакции.
type outboxWriter struct {
	uow *unitOfWork
}

func (w outboxWriter) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	w.uow.outbox = append(w.uow.outbox, msg)
	return msg, nil
}

// insertOrdered вставляет событие после всех, которые его не опережают.
func insertOrdered(events []domain.TimelineEvent, ev domain.TimelineEvent) []domain.TimelineEvent {
	idx := sort.Search(len(events), func(i int) bool {
		return ev.Precedes(events[i])
	})
	events = append(events, domain.TimelineEvent{})
	copy(events[idx+1:], events[idx:])
	events[idx] = ev
	return events
}
