package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxPublisher отправляет события заказов из outbox в Kafka.
// Ключ сообщения: идентификатор заказа, чтобы все его события попали в одну партицию.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	return p.producer.SendJSON(ctx, p.topic, partitionKey(event), NewEnvelope(event, p.now()), map[string]string{
		HeaderEventType:     event.EventType,
		HeaderEventID:       event.ID,
		HeaderAggregateType: event.AggregateType,
	})
}

func partitionKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
