package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/delivery"
	"github.com/vladislavdragonenkov/backoffice/internal/service/inventory"
	"github.com/vladislavdragonenkov/backoffice/internal/service/order"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
)

var (
	sizeM = domain.Attributes{"size": "M"}
	sizeL = domain.Attributes{"size": "L"}
)

type fixture struct {
	store   *memory.Store
	cache   *cache.Memory
	manager *order.Manager
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	flat := dec(5)
	store.PutCategory(domain.Category{ID: "shirts", Name: "Shirts"})
	store.PutCategory(domain.Category{ID: "hats", Name: "Hats"})
	store.PutDeliveryConfig(domain.DeliveryConfiguration{
		ID: "cfg-shirts", CategoryID: "shirts", IsActive: true,
		FlatRate: &flat, ApplicablePostcodes: []string{"6000", "7000"},
	})
	store.PutDeliveryConfig(domain.DeliveryConfiguration{
		ID: "cfg-hats", CategoryID: "hats", IsActive: true,
		RegionRates: &domain.RegionRates{Local: dec(10), National: dec(25)},
	})
	store.PutProduct(domain.Product{
		ID: "shirt", Name: "Shirt", CategoryID: "shirts",
		Variants: []domain.Variant{
			{Price: dec(10), Quantity: 5, Attributes: sizeM},
			{Price: dec(12), Quantity: 2, Attributes: sizeL},
		},
		PricingByLocation: map[string]decimal.Decimal{"7000": dec(8)},
	})
	store.PutProduct(domain.Product{
		ID: "hat", Name: "Hat", CategoryID: "hats",
		Variants: []domain.Variant{{Price: dec(20), Quantity: 1, Attributes: domain.Attributes{"color": "red"}}},
	})

	c := cache.NewMemory()
	manager := order.NewManager(
		store,
		inventory.NewLedger(nil),
		delivery.NewResolver(nil),
		order.WithCache(c),
		order.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	)
	return &fixture{store: store, cache: c, manager: manager}
}

func (f *fixture) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := f.store.Product(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) createShirtOrder(t *testing.T) domain.Order {
	t.Helper()
	created, err := f.manager.Create(context.Background(), "customer-1", order.CreateRequest{
		Items:           []order.ItemRequest{{ProductID: "shirt", Quantity: 2, VariantAttributes: sizeM}},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6000", City: "Perth"},
	})
	require.NoError(t, err)
	return created
}

func TestManager_CreateReservesAndTotals(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)

	require.Equal(t, domain.OrderStatusPending, created.Status)
	require.True(t, dec(5).Equal(created.DeliveryCost), "delivery %s", created.DeliveryCost)
	require.True(t, dec(25).Equal(created.TotalAmount), "total %s", created.TotalAmount)
	require.Equal(t, "6000", created.Postcode)
	require.Empty(t, created.ValidateInvariants())

	p := f.product(t, "shirt")
	require.Equal(t, 3, p.Variants[0].Quantity)
	require.Equal(t, 2, p.ReservedStock)
	require.Equal(t, 5, p.Stock)

	events, err := f.store.Timeline(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending, err := f.store.Outbox().PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.TimelineOrderCreated, pending[0].EventType)
	require.Equal(t, created.ID, pending[0].AggregateID)
}

func TestManager_CreateStoresCustomerPostcodeAndUsesLocationPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Create(ctx, "customer-2", order.CreateRequest{
		Items:           []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM}},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "7000"},
	})
	require.NoError(t, err)
	require.True(t, dec(8).Equal(first.Items[0].Price), "price %s", first.Items[0].Price)

	// второй заказ без адреса берёт индекс из профиля клиента
	second, err := f.manager.Create(ctx, "customer-2", order.CreateRequest{
		Items: []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM}},
	})
	require.NoError(t, err)
	require.Equal(t, "7000", second.Postcode)
}

func TestManager_CreateRequiresPostcode(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(context.Background(), "customer-3", order.CreateRequest{
		Items: []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM}},
	})
	require.ErrorIs(t, err, domain.ErrPostcodeRequired)
	require.Equal(t, 5, f.product(t, "shirt").Variants[0].Quantity)
}

func TestManager_CreateOverReservationLeavesStockUnchanged(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(context.Background(), "customer-1", order.CreateRequest{
		Items: []order.ItemRequest{
			{ProductID: "shirt", Quantity: 2, VariantAttributes: sizeM},
			{ProductID: "hat", Quantity: 3, VariantAttributes: domain.Attributes{"color": "red"}},
		},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6000"},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	shirt := f.product(t, "shirt")
	require.Equal(t, 5, shirt.Variants[0].Quantity)
	require.Zero(t, shirt.ReservedStock)
	hat := f.product(t, "hat")
	require.Equal(t, 1, hat.Variants[0].Quantity)
	require.Zero(t, hat.ReservedStock)

	stats, err := f.store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestManager_CreateDeliveryIsMaximumAcrossItems(t *testing.T) {
	f := newFixture(t)

	created, err := f.manager.Create(context.Background(), "customer-1", order.CreateRequest{
		Items: []order.ItemRequest{
			{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM},
			{ProductID: "hat", Quantity: 1, VariantAttributes: domain.Attributes{"color": "red"}},
		},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6000"},
	})
	require.NoError(t, err)
	require.True(t, dec(10).Equal(created.DeliveryCost), "delivery %s", created.DeliveryCost)
	require.True(t, dec(40).Equal(created.TotalAmount), "total %s", created.TotalAmount)
}

func TestManager_CreateUnserviceablePostcode(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(context.Background(), "customer-1", order.CreateRequest{
		Items:           []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM}},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6001"},
	})
	require.ErrorIs(t, err, domain.ErrPostcodeNotServiceable)
	require.Equal(t, 5, f.product(t, "shirt").Variants[0].Quantity)
}

func TestManager_CancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)

	canceled, err := f.manager.Cancel(context.Background(), created.ID, "changed mind")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	require.Equal(t, "changed mind", canceled.CancellationReason)

	p := f.product(t, "shirt")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)

	_, err = f.manager.Cancel(context.Background(), created.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestManager_CancelNonPending(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)

	_, err := f.manager.UpdateStatus(context.Background(), created.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)

	_, err = f.manager.Cancel(context.Background(), created.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
}

func TestManager_UpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createShirtOrder(t)

	_, err := f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusPending)
	require.ErrorIs(t, err, domain.ErrNoChange)
	require.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))

	_, err = f.manager.UpdateStatus(ctx, created.ID, "SHIPPED")
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	require.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	inTransit, err := f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusInTransit)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusInTransit, inTransit.Status)

	_, err = f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusProcessing)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	completed, err := f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, completed.Status)

	p := f.product(t, "shirt")
	require.Equal(t, 3, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)

	_, err = f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusCanceled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	events, err := f.store.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestManager_UpdateStatusCanceledReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createShirtOrder(t)

	canceled, err := f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusCanceled)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, canceled.Status)

	p := f.product(t, "shirt")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)

	_, err = f.manager.Cancel(ctx, created.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusCanceled)
	require.ErrorIs(t, err, domain.ErrNoChange)

	p = f.product(t, "shirt")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Zero(t, p.ReservedStock)

	events, err := f.store.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TimelineOrderCanceled, events[len(events)-1].Type)
}

func TestManager_UpdateItemsAdjustsReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createShirtOrder(t)

	items := []order.ItemRequest{
		{ProductID: "shirt", Quantity: 4, VariantAttributes: sizeM},
		{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeL},
	}
	updated, err := f.manager.Update(ctx, created.ID, order.UpdatePatch{Items: &items})
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	require.True(t, dec(57).Equal(updated.TotalAmount), "total %s", updated.TotalAmount)

	p := f.product(t, "shirt")
	require.Equal(t, 1, p.Variants[0].Quantity)
	require.Equal(t, 1, p.Variants[1].Quantity)
	require.Equal(t, 5, p.ReservedStock)

	// удалённая строка освобождается полностью, уменьшенная, на разницу
	items = []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeL}}
	updated, err = f.manager.Update(ctx, created.ID, order.UpdatePatch{Items: &items})
	require.NoError(t, err)
	require.True(t, dec(17).Equal(updated.TotalAmount), "total %s", updated.TotalAmount)

	p = f.product(t, "shirt")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Equal(t, 1, p.Variants[1].Quantity)
	require.Equal(t, 1, p.ReservedStock)
	require.Empty(t, p.ValidateInvariants())
}

func TestManager_UpdateSwitchesBetweenLookalikeVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	split := domain.Attributes{"a": "b", "c": "d"}
	joined := domain.Attributes{"a": "b;c=d"}
	f.store.PutProduct(domain.Product{
		ID: "tag", Name: "Tag", CategoryID: "shirts",
		Variants: []domain.Variant{
			{Price: dec(3), Quantity: 5, Attributes: split},
			{Price: dec(3), Quantity: 5, Attributes: joined},
		},
	})

	created, err := f.manager.Create(ctx, "customer-1", order.CreateRequest{
		Items:           []order.ItemRequest{{ProductID: "tag", Quantity: 2, VariantAttributes: split}},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6000"},
	})
	require.NoError(t, err)

	items := []order.ItemRequest{{ProductID: "tag", Quantity: 2, VariantAttributes: joined}}
	_, err = f.manager.Update(ctx, created.ID, order.UpdatePatch{Items: &items})
	require.NoError(t, err)

	p := f.product(t, "tag")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Equal(t, 3, p.Variants[1].Quantity)
	require.Equal(t, 2, p.ReservedStock)

	_, err = f.manager.Cancel(ctx, created.ID, "")
	require.NoError(t, err)

	p = f.product(t, "tag")
	require.Equal(t, 5, p.Variants[0].Quantity)
	require.Equal(t, 5, p.Variants[1].Quantity)
	require.Zero(t, p.ReservedStock)
	require.Empty(t, p.ValidateInvariants())
}

func TestManager_UpdateInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)

	items := []order.ItemRequest{
		{ProductID: "shirt", Quantity: 1, VariantAttributes: sizeM},
		{ProductID: "shirt", Quantity: 9, VariantAttributes: sizeL},
	}
	_, err := f.manager.Update(context.Background(), created.ID, order.UpdatePatch{Items: &items})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	p := f.product(t, "shirt")
	require.Equal(t, 3, p.Variants[0].Quantity)
	require.Equal(t, 2, p.ReservedStock)

	stored, err := f.store.Order(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Version, stored.Version)
}

func TestManager_UpdateDeliveryDetailsReprices(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)
	note := "leave at the door"

	updated, err := f.manager.Update(context.Background(), created.ID, order.UpdatePatch{
		DeliveryDetails:     &domain.DeliveryDetails{PostalCode: "7000", City: "Fremantle"},
		SpecialInstructions: &note,
	})
	require.NoError(t, err)
	require.Equal(t, "7000", updated.Postcode)
	require.True(t, dec(8).Equal(updated.Items[0].Price), "price %s", updated.Items[0].Price)
	require.True(t, dec(21).Equal(updated.TotalAmount), "total %s", updated.TotalAmount)
	require.Equal(t, note, updated.SpecialInstructions)
	require.Equal(t, "Fremantle", updated.DeliveryDetails.City)
}

func TestManager_UpdateRequiresPending(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)
	_, err := f.manager.Cancel(context.Background(), created.ID, "")
	require.NoError(t, err)

	note := "x"
	_, err = f.manager.Update(context.Background(), created.ID, order.UpdatePatch{SpecialInstructions: &note})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.manager.Update(context.Background(), "missing", order.UpdatePatch{SpecialInstructions: &note})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestManager_CacheInvalidatedOnlyAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createShirtOrder(t)

	listKey := cache.OrderListKeyPrefix + "{}"
	require.NoError(t, f.cache.Set(ctx, cache.OrderKey(created.ID), []byte(`{}`), time.Minute))
	require.NoError(t, f.cache.Set(ctx, listKey, []byte(`[]`), time.Minute))

	// неудачная операция не трогает кэш
	_, err := f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusPending)
	require.Error(t, err)
	_, hit, _ := f.cache.Get(ctx, cache.OrderKey(created.ID))
	require.True(t, hit)

	_, err = f.manager.UpdateStatus(ctx, created.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	_, hit, _ = f.cache.Get(ctx, cache.OrderKey(created.ID))
	require.False(t, hit)
	_, hit, _ = f.cache.Get(ctx, listKey)
	require.False(t, hit)
}

func TestManager_ScenarioCreateCancel(t *testing.T) {
	f := newFixture(t)
	created := f.createShirtOrder(t)
	require.True(t, dec(25).Equal(created.TotalAmount))
	require.Equal(t, domain.OrderStatusPending, created.Status)

	canceled, err := f.manager.Cancel(context.Background(), created.ID, "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, canceled.Status)
	require.Equal(t, 5, f.product(t, "shirt").Variants[0].Quantity)
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, "", order.CreateRequest{})
	require.ErrorIs(t, err, domain.ErrCustomerRequired)

	_, err = f.manager.Create(ctx, "customer-1", order.CreateRequest{})
	require.ErrorIs(t, err, domain.ErrItemsRequired)

	_, err = f.manager.Create(ctx, "customer-1", order.CreateRequest{
		Items: []order.ItemRequest{{ProductID: "shirt", Quantity: 0, VariantAttributes: sizeM}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.manager.Create(ctx, "customer-1", order.CreateRequest{
		Items:           []order.ItemRequest{{ProductID: "shirt", Quantity: 1, VariantAttributes: domain.Attributes{"size": "XXL"}}},
		DeliveryDetails: domain.DeliveryDetails{PostalCode: "6000"},
	})
	require.ErrorIs(t, err, domain.ErrVariantNotFound)
}
