package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const productColumns = `id, name, category_id, stock, reserved_stock, variants, pricing_by_location,
	return_count, return_reasons, version, created_at, updated_at`

type productRepository struct {
	q querier
}

// Get блокирует строку товара до конца транзакции.
func (r productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

// Save пишет товар, если версия не изменилась с момента чтения.
func (r productRepository) Save(ctx context.Context, product domain.Product) (domain.Product, error) {
	variants, err := jsonb(product.Variants, "[]")
	if err != nil {
		return domain.Product{}, err
	}
	pricing, err := jsonb(product.PricingByLocation, "{}")
	if err != nil {
		return domain.Product{}, err
	}
	reasons, err := jsonb(product.ReturnReasons, "[]")
	if err != nil {
		return domain.Product{}, err
	}

	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category_id = $4, stock = $5, reserved_stock = $6, variants = $7,
		    pricing_by_location = $8, return_count = $9, return_reasons = $10,
		    version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $2
	`,
		product.ID, product.Version, product.Name, product.CategoryID, product.Stock, product.ReservedStock,
		variants, pricing, product.ReturnCount, reasons, now,
	)
	if err != nil {
		return domain.Product{}, classify(fmt.Errorf("update product %s: %w", product.ID, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Product{}, r.missingOrConflict(ctx, product.ID)
	}

	product.Version++
	product.UpdatedAt = now
	return product, nil
}

func (r productRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("delete product %s: %w", id, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r productRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check product %s: %w", id, err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrWriteConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p                         domain.Product
		variants, pricing, reason []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.CategoryID, &p.Stock, &p.ReservedStock, &variants, &pricing,
		&p.ReturnCount, &reason, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("scan product: %w", err)
	}
	if err := fromJSONB(variants, &p.Variants); err != nil {
		return domain.Product{}, err
	}
	if err := fromJSONB(pricing, &p.PricingByLocation); err != nil {
		return domain.Product{}, err
	}
	if err := fromJSONB(reason, &p.ReturnReasons); err != nil {
		return domain.Product{}, err
	}
	if len(p.PricingByLocation) == 0 {
		p.PricingByLocation = nil
	}
	return p, nil
}

type categoryRepository struct {
	q querier
}

func (r categoryRepository) Get(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := r.q.QueryRowContext(ctx, `SELECT id, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("select category %s: %w", id, err)
	}
	return c, nil
}

type deliveryConfigRepository struct {
	q querier
}

func (r deliveryConfigRepository) GetActiveByCategory(ctx context.Context, categoryID string) (domain.DeliveryConfiguration, error) {
	var (
		cfg                 domain.DeliveryConfiguration
		flat, local, nation decimal.NullDecimal
		postcodes           []byte
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, category_id, flat_rate, applicable_postcodes, local_rate, national_rate, is_active, created_at
		FROM delivery_configs
		WHERE category_id = $1 AND is_active
	`, categoryID).Scan(&cfg.ID, &cfg.CategoryID, &flat, &postcodes, &local, &nation, &cfg.IsActive, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryConfiguration{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.DeliveryConfiguration{}, fmt.Errorf("select delivery config for %s: %w", categoryID, err)
	}
	if err := fromJSONB(postcodes, &cfg.ApplicablePostcodes); err != nil {
		return domain.DeliveryConfiguration{}, err
	}
	if flat.Valid {
		cfg.FlatRate = &flat.Decimal
	}
	if local.Valid && nation.Valid {
		cfg.RegionRates = &domain.RegionRates{Local: local.Decimal, National: nation.Decimal}
	}
	return cfg, nil
}

type customerRepository struct {
	q querier
}

func (r customerRepository) Get(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `SELECT id, postcode, updated_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Postcode, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("select customer %s: %w", id, err)
	}
	return c, nil
}

func (r customerRepository) Upsert(ctx context.Context, customer domain.Customer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO customers (id, postcode, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET postcode = EXCLUDED.postcode, updated_at = EXCLUDED.updated_at
	`, customer.ID, customer.Postcode, time.Now().UTC())
	if err != nil {
		return classify(fmt.Errorf("upsert customer %s: %w", customer.ID, err))
	}
	return nil
}

type metricsRepository struct {
	q querier
}

// Get возвращает снимок; строка блокируется, чтобы параллельные возвраты пересчитывались по очереди.
func (r metricsRepository) Get(ctx context.Context) (domain.FinancialMetrics, error) {
	return scanMetrics(r.q.QueryRowContext(ctx, `
		SELECT total_orders, total_returns, return_rate, total_revenue_impact, return_reasons, updated_at
		FROM financial_metrics WHERE id = 1 FOR UPDATE
	`))
}

func (r metricsRepository) Save(ctx context.Context, m domain.FinancialMetrics) error {
	reasons, err := jsonb(m.ReturnReasons, "{}")
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO financial_metrics (id, total_orders, total_returns, return_rate, total_revenue_impact, return_reasons, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			total_orders = EXCLUDED.total_orders,
			total_returns = EXCLUDED.total_returns,
			return_rate = EXCLUDED.return_rate,
			total_revenue_impact = EXCLUDED.total_revenue_impact,
			return_reasons = EXCLUDED.return_reasons,
			updated_at = EXCLUDED.updated_at
	`, m.TotalOrders, m.TotalReturns, m.ReturnRate, m.TotalRevenueImpact, reasons, m.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("save financial metrics: %w", err))
	}
	return nil
}

func scanMetrics(row rowScanner) (domain.FinancialMetrics, error) {
	m := domain.FinancialMetrics{ReturnReasons: map[string]int{}}
	var reasons []byte
	err := row.Scan(&m.TotalOrders, &m.TotalReturns, &m.ReturnRate, &m.TotalRevenueImpact, &reasons, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return domain.FinancialMetrics{}, fmt.Errorf("scan financial metrics: %w", err)
	}
	if err := fromJSONB(reasons, &m.ReturnReasons); err != nil {
		return domain.FinancialMetrics{}, err
	}
	return m, nil
}
