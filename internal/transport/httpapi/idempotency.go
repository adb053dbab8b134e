package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replay"
	defaultIdempotencyTTL   = 24 * time.Hour
)

// Idempotency сохраняет ответ мутирующего запроса по Idempotency-Key и повторяет его при ретраях.
// Запросы без заголовка проходят как есть.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "http-idempotency")
	}
	return func(next http.Handler) http.Handler {
		if repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, logger, errInvalidBody)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			entry := logger.WithField("idempotency_key", key)
			record, err := repo.Acquire(r.Context(), key, requestHash(r, body), time.Now().UTC().Add(ttl))
			if err != nil {
				replayIdempotent(w, r, entry, record, err)
				return
			}

			// паника в обработчике не должна оставлять ключ "в работе" до истечения TTL
			defer func() {
				if recovered := recover(); recovered != nil {
					body, _ := json.Marshal(ErrorResponse{
						Error:     "internal",
						Message:   http.StatusText(http.StatusInternalServerError),
						Status:    http.StatusInternalServerError,
						RequestID: middleware.GetReqID(r.Context()),
					})
					if err := repo.Complete(context.WithoutCancel(r.Context()), key, body, http.StatusInternalServerError); err != nil {
						entry.WithError(err).Warn("failed to release idempotency key after panic")
					}
					panic(recovered)
				}
			}()

			rec := &teeWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if err := repo.Complete(r.Context(), key, rec.body.Bytes(), rec.statusCode()); err != nil {
				entry.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func replayIdempotent(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, r, logger, domain.ErrIdempotencyHashMismatch)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.InFlight() {
			writeError(w, r, logger, errIdemInFlight)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(idempotencyReplayHeader, "true")
		w.WriteHeader(record.ReplayStatus())
		_, _ = w.Write(record.ResponseBody)
	default:
		writeError(w, r, logger, createErr)
	}
}

// requestHash связывает ключ с методом, путём, вызывающим и телом.
func requestHash(r *http.Request, body []byte) string {
	subject := "anonymous"
	if identity, ok := IdentityFromContext(r.Context()); ok {
		subject = identity.Subject
	}

	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, subject} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// teeWriter копирует ответ, чтобы сохранить его для повторов.
type teeWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (t *teeWriter) WriteHeader(status int) {
	if t.status == 0 {
		t.status = status
	}
	t.ResponseWriter.WriteHeader(status)
}

func (t *teeWriter) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	t.body.Write(p)
	return t.ResponseWriter.Write(p)
}

func (t *teeWriter) statusCode() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}
