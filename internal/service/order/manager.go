package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
)

// Inventory: операции склада, которыми пользуется менеджер.
type Inventory interface {
	Reserve(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error
	Release(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error
	Finalize(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error
}

// DeliveryCost вычисляет стоимость доставки набора позиций.
type DeliveryCost interface {
	ComputeCost(ctx context.Context, uow domain.UnitOfWork, items []domain.OrderItem, postcode string) (decimal.Decimal, error)
}

// Options задаёт необязательные зависимости Manager.
type Options struct {
	Logger  *log.Entry
	Cache   cache.Cache
	Metrics *metrics.OrderMetrics
	Clock   func() time.Time
}

// Option настраивает Manager.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithCache задаёт кэш, который инвалидируется после commit.
func WithCache(c cache.Cache) Option {
	return func(opts *Options) { opts.Cache = c }
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithClock подменяет источник времени (тесты).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Manager управляет жизненным циклом заказа. Каждая операция, одна транзакция.
type Manager struct {
	tx        domain.TxManager
	inventory Inventory
	delivery  DeliveryCost
	cache     cache.Cache
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	tracer    trace.Tracer
	now       func() time.Time
}

// NewManager создаёт Manager.
func NewManager(tx domain.TxManager, inventory Inventory, delivery DeliveryCost, options ...Option) *Manager {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-manager")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		tx:        tx,
		inventory: inventory,
		delivery:  delivery,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("backoffice/order"),
		now:       func() time.Time { return clock().UTC() },
	}
}

// Create резервирует товары, считает доставку и сохраняет заказ в статусе PENDING.
func (m *Manager) Create(ctx context.Context, customerID string, req CreateRequest) (result domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()
	defer m.metrics.OperationStarted("create")(&err)

	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	units := 0
	err = m.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		customer, err := uow.Customers().Get(ctx, customerID)
		if errors.Is(err, domain.ErrCustomerNotFound) {
			customer = domain.Customer{ID: customerID}
		} else if err != nil {
			return fmt.Errorf("load customer %s: %w", customerID, err)
		}

		postcode := customer.Postcode
		if postcode == "" {
			postcode = req.DeliveryDetails.PostalCode
		}
		if postcode == "" {
			return domain.ErrPostcodeRequired
		}

		items := make([]domain.OrderItem, 0, len(req.Items))
		for _, line := range req.Items {
			price, err := m.linePrice(ctx, uow, line.ProductID, line.VariantAttributes, postcode)
			if err != nil {
				return err
			}
			if err := m.inventory.Reserve(ctx, uow, line.ProductID, line.VariantAttributes, line.Quantity); err != nil {
				return err
			}
			units += line.Quantity
			items = append(items, domain.OrderItem{
				ProductID:         line.ProductID,
				Quantity:          line.Quantity,
				VariantAttributes: line.VariantAttributes.Clone(),
				Price:             price,
			})
		}

		cost, err := m.delivery.ComputeCost(ctx, uow, items, postcode)
		if err != nil {
			return err
		}

		now := m.now()
		order := domain.Order{
			ID:                  uuid.NewString(),
			CustomerID:          customerID,
			Items:               items,
			Status:              domain.OrderStatusPending,
			DeliveryCost:        cost,
			Postcode:            postcode,
			DeliveryDetails:     req.DeliveryDetails,
			SpecialInstructions: req.SpecialInstructions,
			Version:             1,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		order.RecalculateTotal()

		if err := uow.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if pc := req.DeliveryDetails.PostalCode; pc != "" && pc != customer.Postcode {
			customer.Postcode = pc
			if err := uow.Customers().Upsert(ctx, customer); err != nil {
				return fmt.Errorf("store customer postcode: %w", err)
			}
		}

		if err := AppendEvent(ctx, uow, order, domain.TimelineOrderCreated, ""); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		m.logFailure("create", "", err)
		return domain.Order{}, err
	}

	m.afterCommit(ctx, result.ID)
	m.metrics.RecordUnitsReserved(units)
	span.SetAttributes(attribute.String("order.id", result.ID))
	m.logger.WithFields(log.Fields{
		"order_id":    result.ID,
		"customer_id": customerID,
		"total":       result.TotalAmount.String(),
	}).Info("order created")
	return result, nil
}

// Update меняет позиции, доставку и комментарий заказа в статусе PENDING.
func (m *Manager) Update(ctx context.Context, orderID string, patch UpdatePatch) (result domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "UpdateOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()
	defer m.metrics.OperationStarted("update")(&err)

	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if err := patch.Validate(); err != nil {
		return domain.Order{}, err
	}

	units := 0
	err = m.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, order.Status)
		}

		postcode := order.Postcode
		if patch.DeliveryDetails != nil && patch.DeliveryDetails.PostalCode != "" {
			postcode = patch.DeliveryDetails.PostalCode
		}

		items := order.Items
		if patch.Items != nil {
			items, units, err = m.replaceItems(ctx, uow, order.Items, *patch.Items)
			if err != nil {
				return err
			}
		}

		if patch.Items != nil || patch.DeliveryDetails != nil {
			for i := range items {
				price, err := m.linePrice(ctx, uow, items[i].ProductID, items[i].VariantAttributes, postcode)
				if err != nil {
					return err
				}
				items[i].Price = price
			}

			cost, err := m.delivery.ComputeCost(ctx, uow, items, postcode)
			if err != nil {
				return err
			}
			order.DeliveryCost = cost
		}

		order.Items = items
		order.Postcode = postcode
		if patch.DeliveryDetails != nil {
			order.DeliveryDetails = *patch.DeliveryDetails
		}
		if patch.SpecialInstructions != nil {
			order.SpecialInstructions = *patch.SpecialInstructions
		}
		order.RecalculateTotal()
		order.UpdatedAt = m.now()

		saved, err := uow.Orders().Save(ctx, order)
		if err != nil {
			return fmt.Errorf("save order %s: %w", orderID, err)
		}
		if err := AppendEvent(ctx, uow, saved, domain.TimelineOrderUpdated, ""); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		m.logFailure("update", orderID, err)
		return domain.Order{}, err
	}

	m.afterCommit(ctx, orderID)
	m.metrics.RecordUnitsReserved(units)
	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"total":    result.TotalAmount.String(),
	}).Info("order updated")
	return result, nil
}

// replaceItems сводит старые и новые строки: довозит резерв на прирост,
// снимает на уменьшение и полностью освобождает удалённые строки.
func (m *Manager) replaceItems(ctx context.Context, uow domain.UnitOfWork, current []domain.OrderItem, requested []ItemRequest) ([]domain.OrderItem, int, error) {
	oldQty := make(map[string]int, len(current))
	for _, item := range current {
		oldQty[lineKey(item.ProductID, item.VariantAttributes)] += item.Quantity
	}

	newQty := make(map[string]int, len(requested))
	items := make([]domain.OrderItem, 0, len(requested))
	for _, line := range requested {
		key := lineKey(line.ProductID, line.VariantAttributes)
		newQty[key] += line.Quantity
		items = append(items, domain.OrderItem{
			ProductID:         line.ProductID,
			Quantity:          line.Quantity,
			VariantAttributes: line.VariantAttributes.Clone(),
		})
	}

	reserved := 0
	applied := make(map[string]bool, len(requested))
	for _, line := range requested {
		key := lineKey(line.ProductID, line.VariantAttributes)
		if applied[key] {
			continue
		}
		applied[key] = true

		delta := newQty[key] - oldQty[key]
		switch {
		case delta > 0:
			if err := m.inventory.Reserve(ctx, uow, line.ProductID, line.VariantAttributes, delta); err != nil {
				return nil, 0, err
			}
			reserved += delta
		case delta < 0:
			if err := m.inventory.Release(ctx, uow, line.ProductID, line.VariantAttributes, -delta); err != nil {
				return nil, 0, err
			}
		}
	}

	released := make(map[string]bool)
	for _, item := range current {
		key := lineKey(item.ProductID, item.VariantAttributes)
		if _, kept := newQty[key]; kept || released[key] {
			continue
		}
		released[key] = true
		if err := m.inventory.Release(ctx, uow, item.ProductID, item.VariantAttributes, oldQty[key]); err != nil {
			return nil, 0, err
		}
	}

	return items, reserved, nil
}

// Cancel отменяет заказ в статусе PENDING и снимает все резервы.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) (result domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()
	defer m.metrics.OperationStarted("cancel")(&err)

	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	err = m.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, order.Status)
		}

		if err := m.releaseAll(ctx, uow, order); err != nil {
			return err
		}

		order.Status = domain.OrderStatusCanceled
		order.CancellationReason = reason
		order.UpdatedAt = m.now()

		saved, err := uow.Orders().Save(ctx, order)
		if err != nil {
			return fmt.Errorf("save order %s: %w", orderID, err)
		}
		if err := AppendEvent(ctx, uow, saved, domain.TimelineOrderCanceled, reason); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		m.logFailure("cancel", orderID, err)
		return domain.Order{}, err
	}

	m.afterCommit(ctx, orderID)
	m.metrics.RecordTransition(domain.OrderStatusPending, domain.OrderStatusCanceled)
	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Info("order canceled")
	return result, nil
}

// UpdateStatus переводит заказ по машине состояний; COMPLETED финализирует резервы,
// CANCELED (только из PENDING) снимает их.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (result domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer func() { endSpan(span, err) }()
	defer m.metrics.OperationStarted("status")(&err)

	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	var from domain.OrderStatus
	err = m.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if order.Status == status {
			return fmt.Errorf("%w: order %s is already %s", domain.ErrNoChange, orderID, status)
		}
		if !CanTransition(order.Status, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, status)
		}

		eventType := domain.TimelineOrderStatusChanged
		switch status {
		case domain.OrderStatusCompleted:
			for _, item := range order.Items {
				if err := m.inventory.Finalize(ctx, uow, item.ProductID, item.VariantAttributes, item.Quantity); err != nil {
					return err
				}
			}
		case domain.OrderStatusCanceled:
			// тот же путь, что и Cancel: переход из PENDING снимает резервы ровно один раз
			if err := m.releaseAll(ctx, uow, order); err != nil {
				return err
			}
			eventType = domain.TimelineOrderCanceled
		}

		order.Status = status
		order.UpdatedAt = m.now()

		saved, err := uow.Orders().Save(ctx, order)
		if err != nil {
			return fmt.Errorf("save order %s: %w", orderID, err)
		}
		if err := AppendEvent(ctx, uow, saved, eventType, string(from)+" -> "+string(status)); err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		m.logFailure("status", orderID, err)
		return domain.Order{}, err
	}

	m.afterCommit(ctx, orderID)
	m.metrics.RecordTransition(from, status)
	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       status,
	}).Info("order status changed")
	return result, nil
}

// releaseAll снимает резерв по всем строкам заказа.
func (m *Manager) releaseAll(ctx context.Context, uow domain.UnitOfWork, order domain.Order) error {
	for _, item := range order.Items {
		if err := m.inventory.Release(ctx, uow, item.ProductID, item.VariantAttributes, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// linePrice проверяет вариант и возвращает его цену с учётом индекса.
func (m *Manager) linePrice(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, postcode string) (decimal.Decimal, error) {
	product, err := uow.Products().Get(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load product %s: %w", productID, err)
	}
	idx, ok := product.FindVariant(attrs)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: product %s attributes %q", domain.ErrVariantNotFound, productID, attrs.Canonical())
	}
	return product.PriceFor(idx, postcode), nil
}

// afterCommit выполняется только после успешного commit.
func (m *Manager) afterCommit(ctx context.Context, orderID string) {
	cache.InvalidateOrder(ctx, m.cache, orderID)
	m.metrics.RecordTimelineEvent()
	m.metrics.RecordOutboxEvent()
}

func (m *Manager) logFailure(operation, orderID string, err error) {
	entry := m.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"kind":      domain.KindOf(err),
	})
	if orderID != "" {
		entry = entry.WithField("order_id", orderID)
	}
	if domain.KindOf(err) == domain.KindUnknown {
		entry.Error("order operation failed")
		return
	}
	entry.Warn("order operation rejected")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
