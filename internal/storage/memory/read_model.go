package memory

import (
	"cmp"
	"context"
	"sort"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Order возвращает зафиксированный заказ.
func (s *Store) Order(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Orders возвращает страницу заказов по фильтру.
func (s *Store) Orders(_ context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	if err := filter.Normalize(); err != nil {
		return domain.OrderPage{}, err
	}

	s.mu.RLock()
	matched := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if matchesFilter(order, filter) {
			matched = append(matched, order.Clone())
		}
	}
	s.mu.RUnlock()

	sortOrders(matched, filter.SortField, filter.SortDesc)

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}

	return domain.NewOrderPage(matched[start:end], filter, total), nil
}

// OrderVolume считает заказы по ключевым статусам.
func (s *Store) OrderVolume(_ context.Context) (domain.OrderVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volume := domain.OrderVolume{Placed: len(s.orders)}
	for _, order := range s.orders {
		switch order.Status {
		case domain.OrderStatusCompleted:
			volume.Fulfilled++
		case domain.OrderStatusPending:
			volume.Pending++
		}
	}
	return volume, nil
}

// OrdersByStatus возвращает заказы в указанных статусах, старые первыми.
func (s *Store) OrdersByStatus(_ context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error) {
	wanted := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	s.mu.RLock()
	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if _, ok := wanted[order.Status]; ok {
			result = append(result, order.Clone())
		}
	}
	s.mu.RUnlock()

	sortOrders(result, domain.SortByCreatedAt, false)
	return result, nil
}

// Product возвращает зафиксированное состояние товара.
func (s *Store) Product(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p.Clone(), nil
}

// FinancialMetrics возвращает последний снимок или пустые метрики.
func (s *Store) FinancialMetrics(_ context.Context) (domain.FinancialMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.metrics == nil {
		return domain.FinancialMetrics{ReturnReasons: map[string]int{}}, nil
	}
	return cloneMetrics(*s.metrics), nil
}

// Timeline возвращает события заказа в хронологическом порядке.
func (s *Store) Timeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

func matchesFilter(order domain.Order, f domain.OrderFilter) bool {
	if f.Status != "" && order.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && order.CustomerID != f.CustomerID {
		return false
	}
	if f.From != nil && order.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && order.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func sortOrders(orders []domain.Order, field string, desc bool) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		var c int
		switch field {
		case domain.SortByTotalAmount:
			c = a.TotalAmount.Cmp(b.TotalAmount)
		case domain.SortByStatus:
			c = cmp.Compare(a.Status, b.Status)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			return a.ID < b.ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}
