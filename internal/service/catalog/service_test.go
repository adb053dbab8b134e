package catalog_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/catalog"
	"github.com/vladislavdragonenkov/backoffice/internal/service/txretry"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

// flakyTx отдаёт конфликт записи первые failures раз, затем выполняет транзакцию.
type flakyTx struct {
	next     domain.TxManager
	failures int
	calls    int
}

func (f *flakyTx) RunInTx(ctx context.Context, fn domain.TxFunc) error {
	f.calls++
	if f.calls <= f.failures {
		return domain.ErrWriteConflict
	}
	return f.next.RunInTx(ctx, fn)
}

func noDelay() txretry.RetryConfig {
	cfg := txretry.DefaultRetryConfig()
	cfg.InitialDelay = 0
	return cfg
}

func seed() *memory.Store {
	store := memory.NewStore()
	store.PutProduct(domain.Product{
		ID: "shirt", CategoryID: "shirts",
		Variants: []domain.Variant{{Price: decimal.NewFromInt(10), Quantity: 1}},
	})
	return store
}

func TestService_DeleteRetriesTwiceAndLogsEachRetry(t *testing.T) {
	store := seed()
	logger, hook := test.NewNullLogger()
	tx := &flakyTx{next: store, failures: 2}
	svc := catalog.NewService(tx, store, noDelay(), log.NewEntry(logger))

	require.NoError(t, svc.DeleteProduct(context.Background(), "shirt"))
	require.Equal(t, 3, tx.calls)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel {
			warnings++
			require.Contains(t, entry.Data, "attempt")
		}
	}
	require.Equal(t, 2, warnings)

	_, err := svc.GetProduct(context.Background(), "shirt")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestService_DeleteSurfacesLastError(t *testing.T) {
	store := seed()
	tx := &flakyTx{next: store, failures: 5}
	svc := catalog.NewService(tx, store, noDelay(), nil)

	err := svc.DeleteProduct(context.Background(), "shirt")
	require.ErrorIs(t, err, domain.ErrWriteConflict)
	require.Equal(t, 3, tx.calls)

	_, err = svc.GetProduct(context.Background(), "shirt")
	require.NoError(t, err)
}

func TestService_DeleteProductInUse(t *testing.T) {
	store := seed()
	store.PutOrder(domain.Order{
		ID: "o1", CustomerID: "c1", Status: domain.OrderStatusProcessing,
		Items: []domain.OrderItem{{ProductID: "shirt", Quantity: 1}},
	})
	tx := &flakyTx{next: store}
	svc := catalog.NewService(tx, store, noDelay(), nil)

	err := svc.DeleteProduct(context.Background(), "shirt")
	require.ErrorIs(t, err, domain.ErrProductInUse)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
	require.Equal(t, 1, tx.calls)
}

func TestService_DeleteMissingProduct(t *testing.T) {
	store := seed()
	svc := catalog.NewService(store, store, noDelay(), nil)

	err := svc.DeleteProduct(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, svc.DeleteProduct(context.Background(), ""), domain.ErrProductRequired)
}
