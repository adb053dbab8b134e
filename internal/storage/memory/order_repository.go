package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// orderRepository: заказы внутри транзакции in-memory Store.
type orderRepository struct {
	uow *unitOfWork
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	if _, err := r.Get(ctx, order.ID); err == nil {
		return domain.ErrWriteConflict
	}
	r.uow.orders[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	if staged, ok := r.uow.orders[id]; ok {
		return staged.Clone(), nil
	}

	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	current, err := r.Get(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrWriteConflict
	}

	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.uow.orders[order.ID] = order.Clone()
	return order, nil
}

func (r orderRepository) Count(_ context.Context) (int, error) {
	return len(r.merged()), nil
}

func (r orderRepository) ListWithReturns(_ context.Context) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range r.merged() {
		if len(order.ReturnItems) > 0 {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// HasActiveForProduct ищет заказы с товаром, которые ещё не пришли в финальный статус.
func (r orderRepository) HasActiveForProduct(_ context.Context, productID string) (bool, error) {
	for _, order := range r.merged() {
		if order.Status.Terminal() || order.Status == domain.OrderStatusCompleted {
			continue
		}
		if order.OrderedQuantity(productID) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// merged возвращает снимок заказов: базовое состояние плюс изменения транзакции.
func (r orderRepository) merged() map[string]domain.Order {
	s := r.uow.store
	s.mu.RLock()
	out := make(map[string]domain.Order, len(s.orders)+len(r.uow.orders))
	for id, order := range s.orders {
		out[id] = order.Clone()
	}
	s.mu.RUnlock()

	for id, order := range r.uow.orders {
		out[id] = order.Clone()
	}
	return out
}

type customerRepository struct {
	uow *unitOfWork
}

func (r customerRepository) Get(_ context.Context, id string) (domain.Customer, error) {
	if staged, ok := r.uow.customers[id]; ok {
		return staged, nil
	}

	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (r customerRepository) Upsert(_ context.Context, customer domain.Customer) error {
	customer.UpdatedAt = time.Now().UTC()
	r.uow.customers[customer.ID] = customer
	return nil
}

type metricsRepository struct {
	uow *unitOfWork
}

// Get возвращает последний снимок; если его ещё нет, отдаёт пустые метрики.
func (r metricsRepository) Get(ctx context.Context) (domain.FinancialMetrics, error) {
	if r.uow.metrics != nil {
		return cloneMetrics(*r.uow.metrics), nil
	}
	return r.uow.store.FinancialMetrics(ctx)
}

func (r metricsRepository) Save(_ context.Context, metrics domain.FinancialMetrics) error {
	m := cloneMetrics(metrics)
	r.uow.metrics = &m
	return nil
}
