package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// unitOfWork отдаёт репозитории, привязанные к одной *sql.Tx.
type unitOfWork struct {
	q querier
}

func (u *unitOfWork) Products() domain.ProductRepository { return productRepository{q: u.q} }

func (u *unitOfWork) Categories() domain.CategoryRepository { return categoryRepository{q: u.q} }

func (u *unitOfWork) DeliveryConfigs() domain.DeliveryConfigRepository {
	return deliveryConfigRepository{q: u.q}
}

func (u *unitOfWork) Orders() domain.OrderRepository { return orderRepository{q: u.q} }

func (u *unitOfWork) Customers() domain.CustomerRepository { return customerRepository{q: u.q} }

func (u *unitOfWork) FinancialMetrics() domain.FinancialMetricsRepository {
	return metricsRepository{q: u.q}
}

func (u *unitOfWork) Timeline() domain.TimelineRepository { return timelineRepository{q: u.q} }

func (u *unitOfWork) Outbox() domain.OutboxWriter { return &outboxRepository{q: u.q} }

// jsonb сериализует значение для JSONB-колонки; nil-срезы пишутся как [].
func jsonb(v any, empty string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	if string(raw) == "null" {
		return []byte(empty), nil
	}
	return raw, nil
}

func fromJSONB(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}
