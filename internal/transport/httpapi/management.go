package httpapi

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/query"
)

func (h *handler) volume(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.volume")
	var err error
	defer func() { endSpan(span, err) }()

	volume, err := h.queries.Volume(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, volume)
}

func (h *handler) averageFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.fulfillment_time")
	var err error
	defer func() { endSpan(span, err) }()

	result, err := h.queries.AverageFulfillmentTime(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) inTransit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.in_transit")
	var err error
	defer func() { endSpan(span, err) }()

	orders, err := h.queries.InTransit(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handler) sales(w http.ResponseWriter, r *http.Request) {
	period := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period")))
	ctx, span := h.span(r, "management.sales", attribute.String("sales.period", period))
	var err error
	defer func() { endSpan(span, err) }()

	buckets, err := h.queries.SalesStatistics(ctx, period)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (h *handler) bestSellers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.best_sellers")
	var err error
	defer func() { endSpan(span, err) }()

	take, err := parseIntParam(r.URL.Query().Get("take"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sellers, err := h.queries.BestSellers(ctx, take)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sellers)
}

func (h *handler) productSales(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.product_sales")
	var err error
	defer func() { endSpan(span, err) }()

	filter, err := parseProductSalesFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.queries.ProductSales(ctx, filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) productReturns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.product_returns")
	var err error
	defer func() { endSpan(span, err) }()

	rows, err := h.queries.ProductReturns(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if rows == nil {
		rows = []query.ProductReturns{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseProductSalesFilter(r *http.Request) (query.ProductSalesFilter, error) {
	q := r.URL.Query()
	filter := query.ProductSalesFilter{SortField: strings.TrimSpace(q.Get("sort"))}

	switch strings.ToLower(strings.TrimSpace(q.Get("order"))) {
	case "", "desc":
		filter.SortDesc = true
	case "asc":
	default:
		return filter, errInvalidQuery
	}

	var err error
	if filter.Page, err = parseIntParam(q.Get("page")); err != nil {
		return filter, err
	}
	if filter.PerPage, err = parseIntParam(q.Get("perPage")); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *handler) financialMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r, "management.financial_metrics")
	var err error
	defer func() { endSpan(span, err) }()

	snapshot, err := h.queries.FinancialMetrics(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
