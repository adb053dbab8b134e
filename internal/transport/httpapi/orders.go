package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/order"
	"github.com/vladislavdragonenkov/backoffice/internal/service/returns"
)

type cancelBody struct {
	Reason string `json:"reason"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	ctx, span := h.span(r, "orders.create", attribute.String("customer.id", identity.Subject))
	var err error
	defer func() { endSpan(span, err) }()

	var req order.CreateRequest
	if err = decodeJSON(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	created, err := h.orders.Create(ctx, identity.Subject, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "orders.update", attribute.String("order.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	var patch order.UpdatePatch
	if err = decodeJSON(r, &patch, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	updated, err := h.orders.Update(ctx, id, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "orders.cancel", attribute.String("order.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	var body cancelBody
	if err = decodeJSON(r, &body, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if _, err = h.orders.Cancel(ctx, id, strings.TrimSpace(body.Reason)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "orders.update_status", attribute.String("order.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	var body statusBody
	if err = decodeJSON(r, &body, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status, err := domain.ParseOrderStatus(body.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("order.status", string(status)))

	updated, err := h.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "orders.get", attribute.String("order.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	found, err := h.queries.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "orders.list")
	var err error
	defer func() { endSpan(span, err) }()

	filter, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.queries.ListOrders(ctx, filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "orders.timeline", attribute.String("order.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	events, err := h.queries.Timeline(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "orders.return")
	var err error
	defer func() { endSpan(span, err) }()

	var req returns.Request
	if err = decodeJSON(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	returned, err := h.returns.CreateReturn(ctx, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, returned)
}

func (h *handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.span(r, "products.delete", attribute.String("product.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	if err = h.products.DeleteProduct(ctx, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseOrderFilter читает status, customerId, from, to, sort, order, page, perPage.
func parseOrderFilter(r *http.Request) (domain.OrderFilter, error) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		CustomerID: strings.TrimSpace(q.Get("customerId")),
		SortField:  strings.TrimSpace(q.Get("sort")),
	}

	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	switch strings.ToLower(strings.TrimSpace(q.Get("order"))) {
	case "", "desc":
		filter.SortDesc = true
	case "asc":
	default:
		return filter, errInvalidQuery
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		return filter, err
	}
	if filter.Page, err = parseIntParam(q.Get("page")); err != nil {
		return filter, err
	}
	if filter.PerPage, err = parseIntParam(q.Get("perPage")); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTimeParam принимает RFC 3339 или дату; дата в "to" означает конец дня.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errInvalidQuery
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseIntParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errInvalidQuery
	}
	return v, nil
}
