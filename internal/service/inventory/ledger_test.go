package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/inventory"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

var sizeM = domain.Attributes{"size": "M"}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(domain.Product{
		ID:         "product-1",
		CategoryID: "category-1",
		Variants: []domain.Variant{
			{Price: decimal.NewFromInt(10), Quantity: 5, Attributes: sizeM},
			{Price: decimal.NewFromInt(12), Quantity: 1, Attributes: domain.Attributes{"size": "L"}},
		},
	})
	return store
}

func run(t *testing.T, store *memory.Store, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	t.Helper()
	return store.RunInTx(context.Background(), fn)
}

func product(t *testing.T, store *memory.Store) domain.Product {
	t.Helper()
	p, err := store.Product(context.Background(), "product-1")
	require.NoError(t, err)
	return p
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	store := seedStore(t)
	ledger := inventory.NewLedger(nil)

	err := run(t, store, func(ctx context.Context, uow domain.UnitOfWork) error {
		return ledger.Reserve(ctx, uow, "product-1", sizeM, 2)
	})
	require.NoError(t, err)

	p := product(t, store)
	require.Equal(t, 3, p.Variants[0].Quantity)
	require.Equal(t, 2, p.ReservedStock)
	require.Equal(t, 4, p.Stock)
	require.Empty(t, p.ValidateInvariants())

	err = run(t, store, func(ctx context.Context, uow domain.UnitOfWork) error {
		return ledger.Release(ctx, uow, "product-1", sizeM, 2)
	})
	require.NoError(t, err)

	p = product(t, store)
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)
	require.Equal(t, 6, p.Stock)
}

func TestLedger_ReserveErrors(t *testing.T) {
	store := seedStore(t)
	ledger := inventory.NewLedger(nil)

	cases := []struct {
		name    string
		product string
		attrs   domain.Attributes
		qty     int
		want    error
	}{
		{name: "insufficient", product: "product-1", attrs: sizeM, qty: 6, want: domain.ErrInsufficientStock},
		{name: "unknown variant", product: "product-1", attrs: domain.Attributes{"size": "XL"}, want: domain.ErrVariantNotFound, qty: 1},
		{name: "partial attributes", product: "product-1", attrs: domain.Attributes{}, want: domain.ErrVariantNotFound, qty: 1},
		{name: "unknown product", product: "missing", attrs: sizeM, qty: 1, want: domain.ErrProductNotFound},
		{name: "zero quantity", product: "product-1", attrs: sizeM, qty: 0, want: domain.ErrInvalidQuantity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(t, store, func(ctx context.Context, uow domain.UnitOfWork) error {
				return ledger.Reserve(ctx, uow, tc.product, tc.attrs, tc.qty)
			})
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, domain.KindOf(tc.want), domain.KindOf(err))

			p := product(t, store)
			require.Equal(t, 5, p.Variants[0].Quantity)
			require.Zero(t, p.ReservedStock)
		})
	}
}

func TestLedger_FinalizeOnlyReleasesReservation(t *testing.T) {
	store := seedStore(t)
	ledger := inventory.NewLedger(nil)

	err := run(t, store, func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := ledger.Reserve(ctx, uow, "product-1", sizeM, 2); err != nil {
			return err
		}
		return ledger.Finalize(ctx, uow, "product-1", sizeM, 2)
	})
	require.NoError(t, err)

	p := product(t, store)
	require.Equal(t, 3, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)
	require.Equal(t, 4, p.Stock)
}

func TestLedger_RestockClampsReservedAndTracksReason(t *testing.T) {
	store := seedStore(t)
	logger, hook := test.NewNullLogger()
	ledger := inventory.NewLedger(logger.WithField("component", "test"))

	err := run(t, store, func(ctx context.Context, uow domain.UnitOfWork) error {
		return ledger.Restock(ctx, uow, "product-1", sizeM, 1, "damaged")
	})
	require.NoError(t, err)

	p := product(t, store)
	require.Equal(t, 6, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)
	require.Equal(t, 1, p.ReturnCount)
	require.Equal(t, []string{"damaged"}, p.ReturnReasons)
	require.Equal(t, 7, p.Stock)
	require.NotNil(t, hook.LastEntry())
}
