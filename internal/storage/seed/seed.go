// Package seed загружает справочники каталога из YAML-файла в хранилище.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

// Target принимает записи справочников; реализуется postgres.Store и MemoryTarget.
type Target interface {
	UpsertCategory(ctx context.Context, c domain.Category) error
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertDeliveryConfig(ctx context.Context, cfg domain.DeliveryConfiguration) error
	UpsertCustomer(ctx context.Context, c domain.Customer) error
}

type fixtureFile struct {
	Categories      []categoryFixture `yaml:"categories"`
	Products        []productFixture  `yaml:"products"`
	DeliveryConfigs []configFixture   `yaml:"delivery_configs"`
	Customers       []customerFixture `yaml:"customers"`
}

type categoryFixture struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type variantFixture struct {
	Price      string            `yaml:"price"`
	Quantity   int               `yaml:"quantity"`
	Attributes map[string]string `yaml:"attributes"`
}

type productFixture struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	CategoryID        string            `yaml:"category_id"`
	Variants          []variantFixture  `yaml:"variants"`
	PricingByLocation map[string]string `yaml:"pricing_by_location"`
}

type configFixture struct {
	ID                  string   `yaml:"id"`
	CategoryID          string   `yaml:"category_id"`
	FlatRate            string   `yaml:"flat_rate"`
	ApplicablePostcodes []string `yaml:"applicable_postcodes"`
	LocalRate           string   `yaml:"local_rate"`
	NationalRate        string   `yaml:"national_rate"`
	Active              *bool    `yaml:"active"`
}

type customerFixture struct {
	ID       string `yaml:"id"`
	Postcode string `yaml:"postcode"`
}

// Fixtures: разобранное содержимое seed-файла в доменных типах.
type Fixtures struct {
	Categories      []domain.Category
	Products        []domain.Product
	DeliveryConfigs []domain.DeliveryConfiguration
	Customers       []domain.Customer
}

// LoadFile читает и разбирает seed-файл.
func LoadFile(path string) (Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read seed file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse разбирает YAML и проверяет ссылки между записями.
func Parse(raw []byte) (Fixtures, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Fixtures{}, fmt.Errorf("decode seed yaml: %w", err)
	}

	var out Fixtures
	categories := make(map[string]struct{}, len(file.Categories))
	for _, c := range file.Categories {
		if strings.TrimSpace(c.ID) == "" {
			return Fixtures{}, errors.New("category without id")
		}
		categories[c.ID] = struct{}{}
		out.Categories = append(out.Categories, domain.Category{ID: c.ID, Name: c.Name})
	}

	for _, p := range file.Products {
		product, err := p.toDomain()
		if err != nil {
			return Fixtures{}, err
		}
		if _, ok := categories[product.CategoryID]; !ok {
			return Fixtures{}, fmt.Errorf("product %s references unknown category %q", product.ID, product.CategoryID)
		}
		out.Products = append(out.Products, product)
	}

	for _, c := range file.DeliveryConfigs {
		cfg, err := c.toDomain()
		if err != nil {
			return Fixtures{}, err
		}
		if _, ok := categories[cfg.CategoryID]; !ok {
			return Fixtures{}, fmt.Errorf("delivery config %s references unknown category %q", cfg.ID, cfg.CategoryID)
		}
		out.DeliveryConfigs = append(out.DeliveryConfigs, cfg)
	}

	for _, c := range file.Customers {
		if strings.TrimSpace(c.ID) == "" {
			return Fixtures{}, errors.New("customer without id")
		}
		out.Customers = append(out.Customers, domain.Customer{ID: c.ID, Postcode: c.Postcode})
	}
	return out, nil
}

func (p productFixture) toDomain() (domain.Product, error) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.Product{}, errors.New("product without id")
	}
	if len(p.Variants) == 0 {
		return domain.Product{}, fmt.Errorf("product %s has no variants", p.ID)
	}

	product := domain.Product{ID: p.ID, Name: p.Name, CategoryID: p.CategoryID}
	for i, v := range p.Variants {
		price, err := decimal.NewFromString(v.Price)
		if err != nil {
			return domain.Product{}, fmt.Errorf("product %s variant %d price: %w", p.ID, i, err)
		}
		if v.Quantity < 0 {
			return domain.Product{}, fmt.Errorf("product %s variant %d: %w", p.ID, i, domain.ErrNegativeStock)
		}
		product.Variants = append(product.Variants, domain.Variant{
			Price:      price,
			Quantity:   v.Quantity,
			Attributes: domain.Attributes(v.Attributes),
		})
	}

	if len(p.PricingByLocation) > 0 {
		product.PricingByLocation = make(map[string]decimal.Decimal, len(p.PricingByLocation))
		for postcode, raw := range p.PricingByLocation {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return domain.Product{}, fmt.Errorf("product %s price for %s: %w", p.ID, postcode, err)
			}
			product.PricingByLocation[postcode] = price
		}
	}
	product.RecomputeStock()
	return product, nil
}

func (c configFixture) toDomain() (domain.DeliveryConfiguration, error) {
	cfg := domain.DeliveryConfiguration{
		ID:                  c.ID,
		CategoryID:          c.CategoryID,
		ApplicablePostcodes: c.ApplicablePostcodes,
		IsActive:            c.Active == nil || *c.Active,
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return cfg, errors.New("delivery config without id")
	}

	if c.FlatRate != "" {
		flat, err := decimal.NewFromString(c.FlatRate)
		if err != nil {
			return cfg, fmt.Errorf("delivery config %s flat rate: %w", c.ID, err)
		}
		cfg.FlatRate = &flat
	}
	if c.LocalRate != "" || c.NationalRate != "" {
		local, err := decimal.NewFromString(c.LocalRate)
		if err != nil {
			return cfg, fmt.Errorf("delivery config %s local rate: %w", c.ID, err)
		}
		national, err := decimal.NewFromString(c.NationalRate)
		if err != nil {
			return cfg, fmt.Errorf("delivery config %s national rate: %w", c.ID, err)
		}
		cfg.RegionRates = &domain.RegionRates{Local: local, National: national}
	}
	if cfg.FlatRate == nil && cfg.RegionRates == nil {
		return cfg, fmt.Errorf("delivery config %s has neither flat nor region rates", c.ID)
	}
	return cfg, nil
}

// Apply записывает справочники в target: категории раньше товаров и конфигураций.
func Apply(ctx context.Context, target Target, fx Fixtures) error {
	for _, c := range fx.Categories {
		if err := target.UpsertCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range fx.Products {
		if err := target.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	for _, cfg := range fx.DeliveryConfigs {
		if err := target.UpsertDeliveryConfig(ctx, cfg); err != nil {
			return err
		}
	}
	for _, c := range fx.Customers {
		if err := target.UpsertCustomer(ctx, c); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"component":        "seed",
		"categories":       len(fx.Categories),
		"products":         len(fx.Products),
		"delivery_configs": len(fx.DeliveryConfigs),
		"customers":        len(fx.Customers),
	}).Info("catalog seeded")
	return nil
}

// MemoryTarget адаптирует in-memory Store к Target.
type MemoryTarget struct {
	Store *memory.Store
}

func (t MemoryTarget) UpsertCategory(_ context.Context, c domain.Category) error {
	t.Store.PutCategory(c)
	return nil
}

func (t MemoryTarget) UpsertProduct(_ context.Context, p domain.Product) error {
	t.Store.PutProduct(p)
	return nil
}

func (t MemoryTarget) UpsertDeliveryConfig(_ context.Context, cfg domain.DeliveryConfiguration) error {
	t.Store.PutDeliveryConfig(cfg)
	return nil
}

func (t MemoryTarget) UpsertCustomer(_ context.Context, c domain.Customer) error {
	t.Store.PutCustomer(c)
	return nil
}
