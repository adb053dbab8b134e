package delivery

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Resolver вычисляет стоимость доставки заказа по конфигурациям категорий.
type Resolver struct {
	logger *log.Entry
}

// NewResolver создаёт Resolver.
func NewResolver(logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.WithField("component", "delivery-resolver")
	}
	return &Resolver{logger: logger}
}

// ComputeCost возвращает максимальный тариф среди позиций заказа (не сумму).
func (r *Resolver) ComputeCost(ctx context.Context, uow domain.UnitOfWork, items []domain.OrderItem, postcode string) (decimal.Decimal, error) {
	cost := decimal.Zero
	configs := make(map[string]domain.DeliveryConfiguration)

	for _, item := range items {
		product, err := uow.Products().Get(ctx, item.ProductID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}

		cfg, ok := configs[product.CategoryID]
		if !ok {
			if _, err := uow.Categories().Get(ctx, product.CategoryID); err != nil {
				return decimal.Zero, fmt.Errorf("load category %s: %w", product.CategoryID, err)
			}
			cfg, err = uow.DeliveryConfigs().GetActiveByCategory(ctx, product.CategoryID)
			if err != nil {
				return decimal.Zero, fmt.Errorf("delivery config for category %s: %w", product.CategoryID, err)
			}
			configs[product.CategoryID] = cfg
		}

		rate, err := Rate(cfg, postcode)
		if err != nil {
			return decimal.Zero, err
		}
		if rate.GreaterThan(cost) {
			cost = rate
		}
	}

	r.logger.WithFields(log.Fields{
		"postcode": postcode,
		"items":    len(items),
		"cost":     cost.String(),
	}).Debug("delivery cost computed")

	return cost, nil
}

// Rate применяет одну конфигурацию к индексу доставки.
func Rate(cfg domain.DeliveryConfiguration, postcode string) (decimal.Decimal, error) {
	switch {
	case cfg.FlatRate != nil:
		if !cfg.Serves(postcode) {
			return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrPostcodeNotServiceable, postcode)
		}
		return *cfg.FlatRate, nil
	case cfg.RegionRates != nil:
		if domain.IsLocalPostcode(postcode) {
			return cfg.RegionRates.Local, nil
		}
		return cfg.RegionRates.National, nil
	default:
		return decimal.Zero, nil
	}
}
