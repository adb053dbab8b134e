package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const defaultOutboxBatch = 100

type deliveryState uint8

const (
	statePending deliveryState = iota
	stateSent
	stateFailed
)

// outboxEntry: событие заказа в журнале outbox; seq задаёт порядок commit.
type outboxEntry struct {
	seq        uint64
	msg        domain.OutboxMessage
	state      deliveryState
	attempts   int
	enqueuedAt time.Time
}

// outboxLog: журнал outbox, упорядоченный по порядку фиксации транзакций.
// События одного заказа публикуются в том порядке, в котором были записаны.
type outboxLog struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

// NewOutboxRepository создаёт журнал outbox в памяти.
func NewOutboxRepository() *outboxLog {
	return &outboxLog{byID: make(map[string]*outboxEntry)}
}

func (l *outboxLog) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.byID[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("%w: duplicate outbox id %s", domain.ErrOutboxPublish, msg.ID)
	}
	l.nextSeq++
	entry := &outboxEntry{seq: l.nextSeq, msg: msg, enqueuedAt: time.Now().UTC()}
	l.entries = append(l.entries, entry)
	l.byID[msg.ID] = entry
	return msg, nil
}

// PullPending отдаёт до limit неопубликованных событий в порядке записи.
func (l *outboxLog) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	batch := make([]domain.OutboxMessage, 0, min(limit, len(l.entries)))
	for _, entry := range l.entries {
		if len(batch) == limit {
			break
		}
		if entry.state == statePending {
			batch = append(batch, entry.msg)
		}
	}
	return batch, nil
}

func (l *outboxLog) Stats(_ context.Context) (domain.OutboxStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats domain.OutboxStats
	for _, entry := range l.entries {
		switch entry.state {
		case statePending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = entry.enqueuedAt
			}
			stats.PendingCount++
		case stateFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (l *outboxLog) MarkSent(_ context.Context, id string) error {
	return l.settle(id, stateSent)
}

func (l *outboxLog) MarkFailed(_ context.Context, id string) error {
	return l.settle(id, stateFailed)
}

// Compact выбрасывает опубликованные события, сохраняя порядок остальных.
func (l *outboxLog) Compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.entries)
	l.entries = slices.DeleteFunc(l.entries, func(entry *outboxEntry) bool {
		if entry.state != stateSent {
			return false
		}
		delete(l.byID, entry.msg.ID)
		return true
	})
	return before - len(l.entries)
}

func (l *outboxLog) settle(id string, state deliveryState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	entry.state = state
	entry.attempts++
	return nil
}

var _ domain.OutboxRepository = (*outboxLog)(nil)
