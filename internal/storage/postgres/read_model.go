package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// sortColumns: белый список полей сортировки; значение подставляется в ORDER BY.
var sortColumns = map[string]string{
	domain.SortByCreatedAt:   "created_at",
	domain.SortByTotalAmount: "total_amount",
	domain.SortByStatus:      "status",
}

// Order читает зафиксированный заказ без блокировки.
func (s *Store) Order(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *Store) Orders(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	if err := filter.Normalize(); err != nil {
		return domain.OrderPage{}, err
	}

	where, args := orderFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count filtered orders: %w", err)
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, sortColumns[filter.SortField], direction, len(args)+1, len(args)+2)

	orders, err := queryOrders(ctx, s.db, query, append(args, filter.PerPage, filter.Offset())...)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.NewOrderPage(orders, filter, total), nil
}

func orderFilterClause(f domain.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) OrderVolume(ctx context.Context) (domain.OrderVolume, error) {
	var volume domain.OrderVolume
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2)
		FROM orders
	`, string(domain.OrderStatusCompleted), string(domain.OrderStatusPending)).Scan(&volume.Placed, &volume.Fulfilled, &volume.Pending)
	if err != nil {
		return domain.OrderVolume{}, fmt.Errorf("order volume: %w", err)
	}
	return volume, nil
}

// OrdersByStatus возвращает заказы в указанных статусах, старые первыми.
func (s *Store) OrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return []domain.Order{}, nil
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	return queryOrders(ctx, s.db, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at, id
	`, values)
}

func (s *Store) Product(ctx context.Context, id string) (domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// FinancialMetrics возвращает последний снимок или пустые метрики.
func (s *Store) FinancialMetrics(ctx context.Context) (domain.FinancialMetrics, error) {
	return scanMetrics(s.db.QueryRowContext(ctx, `
		SELECT total_orders, total_returns, return_rate, total_revenue_impact, return_reasons, updated_at
		FROM financial_metrics WHERE id = 1
	`))
}

func (s *Store) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return timelineRepository{q: s.db}.List(ctx, orderID)
}

var _ domain.ReadModel = (*Store)(nil)
