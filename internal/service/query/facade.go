// Package query обслуживает read-пути заказов, то есть кэшируемые выборки и агрегаты.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Периоды группировки статистики продаж.
const (
	PeriodDaily     = "daily"
	PeriodWeekly    = "weekly"
	PeriodMonthly   = "monthly"
	PeriodQuarterly = "quarterly"
	PeriodYearly    = "yearly"
)

// DefaultBestSellers: размер топа по умолчанию.
const DefaultBestSellers = 5

// FulfillmentTime: среднее время от создания до завершения заказа.
type FulfillmentTime struct {
	AverageMillis   int64 `json:"averageFulfillmentTimeMs"`
	CompletedOrders int   `json:"completedOrders"`
}

// SalesBucket: продажи за один период.
type SalesBucket struct {
	Period      string          `json:"period"`
	TotalSales  decimal.Decimal `json:"totalSales"`
	TotalOrders int             `json:"totalOrders"`
}

// BestSeller: товар из топа продаж.
type BestSeller struct {
	ProductID      string          `json:"productId"`
	TotalUnitsSold int             `json:"totalUnitsSold"`
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
}

// Facade обслуживает запросы чтения; мутаций не выполняет.
type Facade struct {
	read   domain.ReadModel
	cache  cache.Cache
	ttl    time.Duration
	logger *log.Entry
	tracer trace.Tracer
}

// NewFacade создаёт Facade; при c == nil кэш не используется.
func NewFacade(read domain.ReadModel, c cache.Cache, ttl time.Duration, logger *log.Entry) *Facade {
	if logger == nil {
		logger = log.WithField("component", "order-query")
	}
	return &Facade{
		read:   read,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("backoffice/query"),
	}
}

// GetOrder возвращает заказ, по возможности из кэша.
func (f *Facade) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	ctx, span := f.tracer.Start(ctx, "GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	return cache.GetOrCompute(ctx, f.cache, cache.OrderKey(id), f.ttl, func(ctx context.Context) (domain.Order, error) {
		return f.read.Order(ctx, id)
	})
}

// ListOrders возвращает страницу заказов; ключ кэша строится из нормализованного фильтра.
func (f *Facade) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	if err := filter.Normalize(); err != nil {
		return domain.OrderPage{}, err
	}
	ctx, span := f.tracer.Start(ctx, "ListOrders")
	defer span.End()

	key, err := cache.OrderListKey(filter)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return cache.GetOrCompute(ctx, f.cache, key, f.ttl, func(ctx context.Context) (domain.OrderPage, error) {
		return f.read.Orders(ctx, filter)
	})
}

// Volume возвращает количество размещённых, выполненных и ожидающих заказов.
func (f *Facade) Volume(ctx context.Context) (domain.OrderVolume, error) {
	return f.read.OrderVolume(ctx)
}

// AverageFulfillmentTime считает среднее UpdatedAt - CreatedAt по завершённым заказам.
func (f *Facade) AverageFulfillmentTime(ctx context.Context) (FulfillmentTime, error) {
	completed, err := f.read.OrdersByStatus(ctx, domain.OrderStatusCompleted)
	if err != nil {
		return FulfillmentTime{}, err
	}
	if len(completed) == 0 {
		return FulfillmentTime{}, nil
	}

	var total time.Duration
	for _, o := range completed {
		total += o.UpdatedAt.Sub(o.CreatedAt)
	}
	avg := total / time.Duration(len(completed))
	return FulfillmentTime{AverageMillis: avg.Milliseconds(), CompletedOrders: len(completed)}, nil
}

// InTransit возвращает заказы в доставке (IN_TRANSIT и DELIVERED).
func (f *Facade) InTransit(ctx context.Context) ([]domain.Order, error) {
	return f.read.OrdersByStatus(ctx, domain.OrderStatusInTransit, domain.OrderStatusDelivered)
}

// SalesStatistics группирует выручку завершённых заказов по периодам.
func (f *Facade) SalesStatistics(ctx context.Context, period string) ([]SalesBucket, error) {
	if period == "" {
		period = PeriodMonthly
	}
	keyFn, err := periodKey(period)
	if err != nil {
		return nil, err
	}

	completed, err := f.read.OrdersByStatus(ctx, domain.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*SalesBucket)
	for _, o := range completed {
		key := keyFn(o.CreatedAt.UTC())
		b, ok := buckets[key]
		if !ok {
			b = &SalesBucket{Period: key, TotalSales: decimal.Zero}
			buckets[key] = b
		}
		b.TotalSales = b.TotalSales.Add(o.TotalAmount)
		b.TotalOrders++
	}

	result := make([]SalesBucket, 0, len(buckets))
	for _, b := range buckets {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })
	return result, nil
}

// BestSellers возвращает товары с наибольшей выручкой по завершённым заказам.
func (f *Facade) BestSellers(ctx context.Context, take int) ([]BestSeller, error) {
	if take <= 0 {
		take = DefaultBestSellers
	}

	completed, err := f.read.OrdersByStatus(ctx, domain.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*BestSeller)
	for _, o := range completed {
		for _, item := range o.Items {
			s, ok := byProduct[item.ProductID]
			if !ok {
				s = &BestSeller{ProductID: item.ProductID, TotalRevenue: decimal.Zero}
				byProduct[item.ProductID] = s
			}
			s.TotalUnitsSold += item.Quantity
			s.TotalRevenue = s.TotalRevenue.Add(item.LineTotal())
		}
	}

	result := make([]BestSeller, 0, len(byProduct))
	for _, s := range byProduct {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].TotalRevenue.Cmp(result[j].TotalRevenue); c != 0 {
			return c > 0
		}
		return result[i].ProductID < result[j].ProductID
	})
	if len(result) > take {
		result = result[:take]
	}
	return result, nil
}

// FinancialMetrics возвращает последний снимок финансовых метрик.
func (f *Facade) FinancialMetrics(ctx context.Context) (domain.FinancialMetrics, error) {
	return f.read.FinancialMetrics(ctx)
}

// Timeline возвращает историю заказа; для неизвестного заказа, ErrOrderNotFound.
func (f *Facade) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := f.read.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return f.read.Timeline(ctx, orderID)
}

func periodKey(period string) (func(time.Time) string, error) {
	switch period {
	case PeriodDaily:
		return func(t time.Time) string { return t.Format("2006-01-02") }, nil
	case PeriodWeekly:
		return func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		}, nil
	case PeriodMonthly:
		return func(t time.Time) string { return t.Format("2006-01") }, nil
	case PeriodQuarterly:
		return func(t time.Time) string {
			return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
		}, nil
	case PeriodYearly:
		return func(t time.Time) string { return t.Format("2006") }, nil
	default:
		return nil, fmt.Errorf("%w: unknown period %q", domain.ErrInvalidArgument, period)
	}
}
