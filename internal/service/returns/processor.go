package returns

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/order"
)

// Restocker возвращает единицы товара на склад.
type Restocker interface {
	Restock(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int, reason string) error
}

// Line: строка запроса на возврат.
type Line struct {
	ProductID  string            `json:"productId"`
	Quantity   int               `json:"quantity"`
	Reason     string            `json:"reason,omitempty"`
	Attributes domain.Attributes `json:"attributes,omitempty"`
}

// Request: запрос на возврат по заказу.
type Request struct {
	OrderID string `json:"orderId"`
	Items   []Line `json:"items"`
}

// Validate проверяет форму запроса до открытия транзакции.
func (r Request) Validate() error {
	if r.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if len(r.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for i, line := range r.Items {
		if line.ProductID == "" {
			return fmt.Errorf("%w: return line %d", domain.ErrProductRequired, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: return line %d", domain.ErrInvalidReturnQuantity, i)
		}
	}
	return nil
}

// Processor оформляет возвраты по завершённым заказам.
type Processor struct {
	tx        domain.TxManager
	restocker Restocker
	finance   domain.FinancialMetricsRecomputation
	cache     cache.Cache
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	tracer    trace.Tracer
}

// NewProcessor создаёт Processor; cache и metrics могут быть nil.
func NewProcessor(
	tx domain.TxManager,
	restocker Restocker,
	finance domain.FinancialMetricsRecomputation,
	c cache.Cache,
	m *metrics.OrderMetrics,
	logger *log.Entry,
) *Processor {
	if logger == nil {
		logger = log.WithField("component", "return-processor")
	}
	return &Processor{
		tx:        tx,
		restocker: restocker,
		finance:   finance,
		cache:     c,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("backoffice/returns"),
	}
}

// CreateReturn возвращает товары на склад, переводит заказ в RETURNED и пересчитывает метрики.
func (p *Processor) CreateReturn(ctx context.Context, req Request) (result domain.Order, err error) {
	ctx, span := p.tracer.Start(ctx, "CreateReturn", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer p.metrics.OperationStarted("return")(&err)

	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	var from domain.OrderStatus
	units := 0
	err = p.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, req.OrderID)
		if err != nil {
			return err
		}
		from = o.Status
		if o.Status != domain.OrderStatusCompleted && o.Status != domain.OrderStatusReturned {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, o.ID, o.Status)
		}

		units = 0
		requested := make(map[string]int, len(req.Items))
		for _, line := range req.Items {
			ordered := o.OrderedQuantity(line.ProductID)
			requested[line.ProductID] += line.Quantity
			if o.ReturnedQuantity(line.ProductID)+requested[line.ProductID] > ordered {
				return fmt.Errorf("%w: product %s ordered %d", domain.ErrInvalidReturnQuantity, line.ProductID, ordered)
			}

			attrs, err := returnVariant(o, line)
			if err != nil {
				return err
			}

			if err := p.restocker.Restock(ctx, uow, line.ProductID, attrs, line.Quantity, line.Reason); err != nil {
				return err
			}
			units += line.Quantity

			o.ReturnItems = append(o.ReturnItems, domain.ReturnItem{
				ProductID:  line.ProductID,
				Quantity:   line.Quantity,
				Reason:     line.Reason,
				Attributes: attrs.Clone(),
			})
		}

		o.Status = domain.OrderStatusReturned
		saved, err := uow.Orders().Save(ctx, o)
		if err != nil {
			return fmt.Errorf("save order %s: %w", o.ID, err)
		}

		if err := p.finance.Recompute(ctx, uow); err != nil {
			return fmt.Errorf("recompute financial metrics: %w", err)
		}

		if err := order.AppendEvent(ctx, uow, saved, domain.TimelineOrderReturned, returnReason(req.Items)); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		entry := p.logger.WithError(err).WithField("order_id", req.OrderID)
		if domain.KindOf(err) == domain.KindUnknown {
			entry.Error("return failed")
		} else {
			entry.Warn("return rejected")
		}
		return domain.Order{}, err
	}

	cache.InvalidateOrder(ctx, p.cache, req.OrderID)
	p.metrics.RecordUnitsReturned(units)
	p.metrics.RecordTimelineEvent()
	p.metrics.RecordOutboxEvent()
	if from != domain.OrderStatusReturned {
		p.metrics.RecordTransition(from, domain.OrderStatusReturned)
	}
	p.logger.WithFields(log.Fields{
		"order_id": req.OrderID,
		"units":    units,
	}).Info("order returned")
	return result, nil
}

// returnVariant определяет вариант, на который вернётся строка. Без атрибутов
// строка допустима, только если товар заказан в одном варианте.
func returnVariant(o domain.Order, line Line) (domain.Attributes, error) {
	if len(line.Attributes) > 0 {
		if _, ok := o.FindItem(line.ProductID, line.Attributes); !ok {
			return nil, fmt.Errorf("%w: product %s was not ordered with attributes %q",
				domain.ErrInvalidReturnQuantity, line.ProductID, line.Attributes.Canonical())
		}
		return line.Attributes, checkVariantQuantity(o, line.ProductID, line.Attributes, line.Quantity)
	}

	variants := o.OrderedVariants(line.ProductID)
	if len(variants) > 1 {
		return nil, fmt.Errorf("%w: product %s ordered in %d variants", domain.ErrReturnVariantRequired, line.ProductID, len(variants))
	}
	if len(variants) == 1 {
		return variants[0], nil
	}
	return nil, nil
}

// checkVariantQuantity: по одному варианту нельзя вернуть больше, чем по нему заказано.
func checkVariantQuantity(o domain.Order, productID string, attrs domain.Attributes, qty int) error {
	ordered, returned := 0, 0
	for _, item := range o.Items {
		if item.ProductID == productID && item.VariantAttributes.Matches(attrs) {
			ordered += item.Quantity
		}
	}
	for _, item := range o.ReturnItems {
		if item.ProductID == productID && item.Attributes.Matches(attrs) {
			returned += item.Quantity
		}
	}
	if returned+qty > ordered {
		return fmt.Errorf("%w: product %s attributes %q ordered %d",
			domain.ErrInvalidReturnQuantity, productID, attrs.Canonical(), ordered)
	}
	return nil
}

// returnReason: первая непустая причина среди строк возврата.
func returnReason(lines []Line) string {
	for _, line := range lines {
		if line.Reason != "" {
			return line.Reason
		}
	}
	return ""
}
