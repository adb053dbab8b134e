package memory

import (
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// unitOfWork накапливает изменения одной транзакции поверх состояния Store.
// nil в products означает удалённый товар.
type unitOfWork struct {
	store *Store

	products  map[string]*domain.Product
	orders    map[string]domain.Order
	customers map[string]domain.Customer
	metrics   *domain.FinancialMetrics
	timeline  []domain.TimelineEvent
	outbox    []domain.OutboxMessage
}

func newUnitOfWork(s *Store) *unitOfWork {
	return &unitOfWork{
		store:     s,
		products:  make(map[string]*domain.Product),
		orders:    make(map[string]domain.Order),
		customers: make(map[string]domain.Customer),
	}
}

func (u *unitOfWork) Products() domain.ProductRepository { return productRepository{uow: u} }

func (u *unitOfWork) Categories() domain.CategoryRepository { return categoryRepository{uow: u} }

func (u *unitOfWork) DeliveryConfigs() domain.DeliveryConfigRepository {
	return deliveryConfigRepository{uow: u}
}

func (u *unitOfWork) Orders() domain.OrderRepository { return orderRepository{uow: u} }

func (u *unitOfWork) Customers() domain.CustomerRepository { return customerRepository{uow: u} }

func (u *unitOfWork) FinancialMetrics() domain.FinancialMetricsRepository {
	return metricsRepository{uow: u}
}

func (u *unitOfWork) Timeline() domain.TimelineRepository { return timelineRepository{uow: u} }

func (u *unitOfWork) Outbox() domain.OutboxWriter { return outboxWriter{uow: u} }

var _ domain.UnitOfWork = (*unitOfWork)(nil)
