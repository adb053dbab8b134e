package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

const sample = `
categories:
  - {id: shirts, name: Shirts}
products:
  - id: shirt
    name: Shirt
    category_id: shirts
    variants:
      - {price: "10.00", quantity: 5, attributes: {size: M}}
      - {price: "12.00", quantity: 2, attributes: {size: L}}
    pricing_by_location: {"1000": "9.50"}
delivery_configs:
  - id: shirts-regions
    category_id: shirts
    local_rate: "5"
    national_rate: "15"
  - id: shirts-flat
    category_id: shirts
    flat_rate: "2"
    active: false
customers:
  - {id: c1, postcode: "1000"}
`

func TestParse(t *testing.T) {
	fx, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, fx.Products, 1)
	shirt := fx.Products[0]
	require.Equal(t, 7, shirt.Stock)
	require.True(t, shirt.Variants[0].Price.Equal(decimal.NewFromInt(10)))
	require.True(t, shirt.PricingByLocation["1000"].Equal(decimal.RequireFromString("9.5")))

	require.Len(t, fx.DeliveryConfigs, 2)
	require.True(t, fx.DeliveryConfigs[0].IsActive)
	require.NotNil(t, fx.DeliveryConfigs[0].RegionRates)
	require.False(t, fx.DeliveryConfigs[1].IsActive)
	require.NotNil(t, fx.DeliveryConfigs[1].FlatRate)
}

func TestParseRejectsBrokenFixtures(t *testing.T) {
	cases := map[string]string{
		"unknown category": `
categories: [{id: a, name: A}]
products: [{id: p, category_id: b, variants: [{price: "1", quantity: 1}]}]`,
		"bad price": `
categories: [{id: a, name: A}]
products: [{id: p, category_id: a, variants: [{price: "abc", quantity: 1}]}]`,
		"no variants": `
categories: [{id: a, name: A}]
products: [{id: p, category_id: a}]`,
		"config without rates": `
categories: [{id: a, name: A}]
delivery_configs: [{id: c, category_id: a}]`,
		"invalid yaml": `categories: [`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestApplyToMemoryStore(t *testing.T) {
	fx, err := Parse([]byte(sample))
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, Apply(context.Background(), MemoryTarget{Store: store}, fx))

	product, err := store.Product(context.Background(), "shirt")
	require.NoError(t, err)
	require.Equal(t, "shirts", product.CategoryID)
	require.Equal(t, 7, product.Stock)

	err = store.RunInTx(context.Background(), func(ctx context.Context, uow domain.UnitOfWork) error {
		cfg, err := uow.DeliveryConfigs().GetActiveByCategory(ctx, "shirts")
		require.NoError(t, err)
		require.Equal(t, "shirts-regions", cfg.ID)

		customer, err := uow.Customers().Get(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "1000", customer.Postcode)
		return nil
	})
	require.NoError(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	fx, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, fx.Categories, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRepositorySeedFileParses(t *testing.T) {
	fx, err := LoadFile(filepath.Join("..", "..", "..", "deploy", "seed.yaml"))
	require.NoError(t, err)
	require.Len(t, fx.Products, 2)
	require.Len(t, fx.DeliveryConfigs, 2)
}
