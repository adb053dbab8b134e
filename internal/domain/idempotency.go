package domain

import (
	"net/http"
	"strings"
	"time"
)

// IdempotencyStatus: стадия обработки мутирующего запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed: запрос завершился ошибкой, ответ тоже повторяется.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord связывает ключ с хешем запроса и сохранённым ответом API.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord открывает запись в статусе processing.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(requestHash) == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// InFlight: первый запрос с этим ключом ещё не ответил.
func (r IdempotencyRecord) InFlight() bool {
	return r.Status == IdempotencyStatusProcessing
}

// Complete фиксирует ответ API; 4xx/5xx переводят запись в failed.
func (r *IdempotencyRecord) Complete(body []byte, httpStatus int, now time.Time) {
	r.Status = IdempotencyStatusDone
	if httpStatus >= http.StatusBadRequest {
		r.Status = IdempotencyStatusFailed
	}
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now.UTC()
}

// ReplayStatus возвращает HTTP-статус для повтора сохранённого ответа.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}
