package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Recomputer пересчитывает финансовые метрики по возвратам.
type Recomputer struct {
	logger *log.Entry
	now    func() time.Time
}

// NewRecomputer создаёт Recomputer.
func NewRecomputer(logger *log.Entry) *Recomputer {
	if logger == nil {
		logger = log.WithField("component", "finance-recompute")
	}
	return &Recomputer{logger: logger, now: time.Now}
}

// Recompute собирает метрики по всем заказам и сохраняет снимок в той же транзакции.
func (r *Recomputer) Recompute(ctx context.Context, uow domain.UnitOfWork) error {
	// сначала блокируем снимок: параллельные пересчёты идут по очереди и видят чужие возвраты
	if _, err := uow.FinancialMetrics().Get(ctx); err != nil {
		return fmt.Errorf("lock financial metrics: %w", err)
	}

	totalOrders, err := uow.Orders().Count(ctx)
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	returned, err := uow.Orders().ListWithReturns(ctx)
	if err != nil {
		return fmt.Errorf("list orders with returns: %w", err)
	}

	metrics := domain.FinancialMetrics{
		TotalOrders:        totalOrders,
		ReturnRate:         decimal.Zero,
		TotalRevenueImpact: decimal.Zero,
		ReturnReasons:      make(map[string]int),
		UpdatedAt:          r.now().UTC(),
	}

	products := make(map[string]*domain.Product)
	for _, order := range returned {
		for _, line := range order.ReturnItems {
			metrics.TotalReturns += line.Quantity

			reason := line.Reason
			if reason == "" {
				reason = domain.UnknownReturnReason
			}
			metrics.ReturnReasons[reason]++

			price, err := r.returnPrice(ctx, uow, products, order, line)
			if err != nil {
				return err
			}
			metrics.TotalRevenueImpact = metrics.TotalRevenueImpact.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}

	if totalOrders > 0 {
		metrics.ReturnRate = decimal.NewFromInt(int64(metrics.TotalReturns)).
			Div(decimal.NewFromInt(int64(totalOrders))).
			Mul(hundred).
			Round(2)
	}

	if err := uow.FinancialMetrics().Save(ctx, metrics); err != nil {
		return fmt.Errorf("save financial metrics: %w", err)
	}

	r.logger.WithFields(log.Fields{
		"total_orders":  metrics.TotalOrders,
		"total_returns": metrics.TotalReturns,
		"return_rate":   metrics.ReturnRate.String(),
	}).Debug("financial metrics recomputed")
	return nil
}

// returnPrice берёт цену варианта из каталога, а если товара или варианта уже нет, цену из строки заказа.
func (r *Recomputer) returnPrice(
	ctx context.Context,
	uow domain.UnitOfWork,
	products map[string]*domain.Product,
	order domain.Order,
	line domain.ReturnItem,
) (decimal.Decimal, error) {
	product, seen := products[line.ProductID]
	if !seen {
		p, err := uow.Products().Get(ctx, line.ProductID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			product = nil
		case err != nil:
			return decimal.Zero, fmt.Errorf("load product %s: %w", line.ProductID, err)
		default:
			product = &p
		}
		products[line.ProductID] = product
	}

	if product != nil {
		if idx, ok := product.FindVariant(line.Attributes); ok {
			return product.Variants[idx].Price, nil
		}
	}

	if item, ok := order.FindItem(line.ProductID, line.Attributes); ok {
		return item.Price, nil
	}
	if item, ok := order.FindItem(line.ProductID, nil); ok {
		return item.Price, nil
	}
	return decimal.Zero, nil
}
