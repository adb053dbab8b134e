package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// ErrorResponse: единый JSON-конверт ошибки.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

var (
	errInvalidBody  = &domain.Error{Kind: domain.KindInvalidArgument, Code: "invalid_body", Message: "request body is not valid JSON"}
	errInvalidQuery = &domain.Error{Kind: domain.KindInvalidArgument, Code: "invalid_query", Message: "invalid query parameter"}
	errIdemInFlight = &domain.Error{Kind: domain.KindConflict, Code: "idempotency_in_progress", Message: "request with the same idempotency key is already processing"}
)

// statusFor отображает класс доменной ошибки в HTTP-статус.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	status := statusFor(domain.KindOf(err))
	resp := ErrorResponse{
		Error:     domain.CodeOf(err),
		Message:   err.Error(),
		Status:    status,
		RequestID: middleware.GetReqID(r.Context()),
	}

	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		// Текст внутренних ошибок наружу не отдаём.
		resp.Message = http.StatusText(status)
		logger.WithError(err).WithFields(log.Fields{
			"path":       r.URL.Path,
			"request_id": resp.RequestID,
		}).Error("request failed")
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON разбирает тело запроса; пустое тело допустимо только при allowEmpty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return errInvalidBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}
