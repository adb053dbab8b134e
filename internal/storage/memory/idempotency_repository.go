package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyOption настраивает in-memory хранилище ключей.
type IdempotencyOption func(*idempotencyKeys)

// WithIdempotencyClock подменяет источник времени (для тестов истечения ключей).
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(k *idempotencyKeys) {
		if now != nil {
			k.now = now
		}
	}
}

type idempotencyKeys struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository возвращает хранилище ответов API в памяти процесса.
func NewIdempotencyRepository(opts ...IdempotencyOption) domain.IdempotencyRepository {
	keys := &idempotencyKeys{
		now:     time.Now,
		records: make(map[string]domain.IdempotencyRecord),
	}
	for _, opt := range opts {
		opt(keys)
	}
	return keys
}

func (k *idempotencyKeys) Acquire(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := k.now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if held, ok := k.records[record.Key]; ok && !held.Expired(now) {
		if held.RequestHash != record.RequestHash {
			return copyRecord(held), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	k.records[record.Key] = record
	return record, nil
}

func (k *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (k *idempotencyKeys) Complete(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Complete(responseBody, httpStatus, k.now())
	k.records[key] = record
	return nil
}

// DeleteExpired удаляет ключи с TTL не позже before, начиная с самых старых.
func (k *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = k.now().UTC()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range k.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return a.TTLAt.Compare(b.TTLAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(k.records, record.Key)
	}
	return len(expired), nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = slices.Clone(src.ResponseBody)
	return dst
}
