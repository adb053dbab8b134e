// Package httpapi реализует HTTP JSON API back office поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/order"
	"github.com/vladislavdragonenkov/backoffice/internal/service/query"
	"github.com/vladislavdragonenkov/backoffice/internal/service/returns"
)

// OrderCommands: мутации заказа.
type OrderCommands interface {
	Create(ctx context.Context, customerID string, req order.CreateRequest) (domain.Order, error)
	Update(ctx context.Context, orderID string, patch order.UpdatePatch) (domain.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
}

// ReturnCommands: оформление возвратов.
type ReturnCommands interface {
	CreateReturn(ctx context.Context, req returns.Request) (domain.Order, error)
}

// OrderQueries: read-пути.
type OrderQueries interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error)
	Volume(ctx context.Context) (domain.OrderVolume, error)
	AverageFulfillmentTime(ctx context.Context) (query.FulfillmentTime, error)
	InTransit(ctx context.Context) ([]domain.Order, error)
	SalesStatistics(ctx context.Context, period string) ([]query.SalesBucket, error)
	BestSellers(ctx context.Context, take int) ([]query.BestSeller, error)
	ProductSales(ctx context.Context, filter query.ProductSalesFilter) (query.ProductSalesPage, error)
	ProductReturns(ctx context.Context) ([]query.ProductReturns, error)
	FinancialMetrics(ctx context.Context) (domain.FinancialMetrics, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// ProductCommands: операции каталога.
type ProductCommands interface {
	DeleteProduct(ctx context.Context, id string) error
}

// Deps: зависимости роутера.
type Deps struct {
	Orders         OrderCommands
	Returns        ReturnCommands
	Queries        OrderQueries
	Products       ProductCommands
	Auth           *Authenticator
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	Logger         *log.Entry
}

type handler struct {
	orders   OrderCommands
	returns  ReturnCommands
	queries  OrderQueries
	products ProductCommands
	logger   *log.Entry
	tracer   trace.Tracer
}

// NewRouter собирает маршруты API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	h := &handler{
		orders:   deps.Orders,
		returns:  deps.Returns,
		queries:  deps.Queries,
		products: deps.Products,
		logger:   logger,
		tracer:   otel.Tracer("backoffice/http"),
	}

	staff := RequireRoles(logger, RoleSalesAssistance, RoleAdmin, RoleSuperAdmin)
	admins := RequireRoles(logger, RoleAdmin, RoleSuperAdmin)
	idem := Idempotency(deps.Idempotency, deps.IdempotencyTTL, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)

		r.Route("/orders", func(r chi.Router) {
			r.With(idem).Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.With(idem).Post("/return", h.createReturn)

			r.Group(func(r chi.Router) {
				r.Use(staff)
				r.Get("/management/volume", h.volume)
				r.Get("/management/in-transit", h.inTransit)
				r.Get("/fulfillment-time/average", h.averageFulfillment)
			})

			// отчёты по продажам и возвратам доступны только администраторам
			r.Group(func(r chi.Router) {
				r.Use(admins)
				r.Get("/management/sales", h.sales)
				r.Get("/management/best-sellers", h.bestSellers)
				r.Get("/management/product-sales", h.productSales)
				r.Get("/management/product-returns", h.productReturns)
				r.Get("/management/financial-metrics", h.financialMetrics)
			})

			r.Get("/{id}", h.getOrder)
			r.Patch("/{id}", h.updateOrder)
			r.Patch("/{id}/cancel", h.cancelOrder)
			r.Patch("/{id}/status", h.updateStatus)
			r.Get("/{id}/timeline", h.timeline)
		})

		r.With(admins).Delete("/products/{id}", h.deleteProduct)
	})

	return r
}

func (h *handler) span(r *http.Request, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("http.method", r.Method))
	return h.tracer.Start(r.Context(), name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
