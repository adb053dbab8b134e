package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// UpsertCategory создаёт или переименовывает категорию.
func (s *Store) UpsertCategory(ctx context.Context, c domain.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("upsert category %s: %w", c.ID, err)
	}
	return nil
}

// UpsertProduct записывает товар целиком; Stock пересчитывается из вариантов.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	p.RecomputeStock()
	variants, err := jsonb(p.Variants, "[]")
	if err != nil {
		return err
	}
	pricing, err := jsonb(p.PricingByLocation, "{}")
	if err != nil {
		return err
	}
	reasons, err := jsonb(p.ReturnReasons, "[]")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category_id = EXCLUDED.category_id, stock = EXCLUDED.stock,
		    reserved_stock = EXCLUDED.reserved_stock, variants = EXCLUDED.variants,
		    pricing_by_location = EXCLUDED.pricing_by_location, return_count = EXCLUDED.return_count,
		    return_reasons = EXCLUDED.return_reasons, version = products.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.CategoryID, p.Stock, p.ReservedStock, variants, pricing, p.ReturnCount, reasons, p.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// UpsertDeliveryConfig сохраняет конфигурацию; активная конфигурация снимает флаг с прежней.
func (s *Store) UpsertDeliveryConfig(ctx context.Context, cfg domain.DeliveryConfiguration) error {
	postcodes, err := jsonb(cfg.ApplicablePostcodes, "[]")
	if err != nil {
		return err
	}
	var flat, local, national decimal.NullDecimal
	if cfg.FlatRate != nil {
		flat = decimal.NewNullDecimal(*cfg.FlatRate)
	}
	if cfg.RegionRates != nil {
		local = decimal.NewNullDecimal(cfg.RegionRates.Local)
		national = decimal.NewNullDecimal(cfg.RegionRates.National)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	return s.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		q := uow.(*unitOfWork).q
		if cfg.IsActive {
			if _, err := q.ExecContext(ctx, `
				UPDATE delivery_configs SET is_active = FALSE
				WHERE category_id = $1 AND is_active AND id <> $2
			`, cfg.CategoryID, cfg.ID); err != nil {
				return fmt.Errorf("deactivate delivery configs for %s: %w", cfg.CategoryID, err)
			}
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO delivery_configs (id, category_id, flat_rate, applicable_postcodes, local_rate, national_rate, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET category_id = EXCLUDED.category_id, flat_rate = EXCLUDED.flat_rate,
			    applicable_postcodes = EXCLUDED.applicable_postcodes, local_rate = EXCLUDED.local_rate,
			    national_rate = EXCLUDED.national_rate, is_active = EXCLUDED.is_active
		`, cfg.ID, cfg.CategoryID, flat, postcodes, local, national, cfg.IsActive, cfg.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert delivery config %s: %w", cfg.ID, err)
		}
		return nil
	})
}

func (s *Store) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	return customerRepository{q: s.db}.Upsert(ctx, c)
}
