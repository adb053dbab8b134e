package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const orderColumns = `id, customer_id, status, total_amount, delivery_cost, postcode, items, delivery_details,
	special_instructions, return_items, invoice_generated, is_paid, cancellation_reason, version, created_at, updated_at`

type orderRepository struct {
	q querier
}

type orderDocuments struct {
	items, details, returns []byte
}

func encodeOrder(order domain.Order) (orderDocuments, error) {
	var (
		docs orderDocuments
		err  error
	)
	if docs.items, err = jsonb(order.Items, "[]"); err != nil {
		return docs, err
	}
	if docs.details, err = jsonb(order.DeliveryDetails, "{}"); err != nil {
		return docs, err
	}
	if docs.returns, err = jsonb(order.ReturnItems, "[]"); err != nil {
		return docs, err
	}
	return docs, nil
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	docs, err := encodeOrder(order)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.CustomerID, string(order.Status), order.TotalAmount, order.DeliveryCost, order.Postcode,
		docs.items, docs.details, order.SpecialInstructions, docs.returns, order.InvoiceGenerated, order.IsPaid,
		order.CancellationReason, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", domain.ErrWriteConflict, order.ID)
		}
		return classify(fmt.Errorf("insert order %s: %w", order.ID, err))
	}
	return nil
}

// Get блокирует строку заказа до конца транзакции.
func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (r orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	docs, err := encodeOrder(order)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, total_amount = $4, delivery_cost = $5, postcode = $6, items = $7,
		    delivery_details = $8, special_instructions = $9, return_items = $10,
		    invoice_generated = $11, is_paid = $12, cancellation_reason = $13,
		    version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $2
	`,
		order.ID, order.Version, string(order.Status), order.TotalAmount, order.DeliveryCost, order.Postcode,
		docs.items, docs.details, order.SpecialInstructions, docs.returns,
		order.InvoiceGenerated, order.IsPaid, order.CancellationReason, now,
	)
	if err != nil {
		return domain.Order{}, classify(fmt.Errorf("update order %s: %w", order.ID, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return domain.Order{}, fmt.Errorf("check order %s: %w", order.ID, err)
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrWriteConflict
	}

	order.Version++
	order.UpdatedAt = now
	return order, nil
}

func (r orderRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (r orderRepository) ListWithReturns(ctx context.Context) ([]domain.Order, error) {
	return queryOrders(ctx, r.q, `
		SELECT `+orderColumns+` FROM orders
		WHERE jsonb_array_length(return_items) > 0
		ORDER BY id
	`)
}

// HasActiveForProduct ищет товар в позициях заказов, ещё не дошедших до финального статуса.
func (r orderRepository) HasActiveForProduct(ctx context.Context, productID string) (bool, error) {
	probe, err := json.Marshal([]map[string]string{{"productId": productID}})
	if err != nil {
		return false, err
	}

	var active bool
	err = r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE items @> $1::jsonb AND status NOT IN ($2, $3, $4)
		)
	`, probe, string(domain.OrderStatusCompleted), string(domain.OrderStatusCanceled), string(domain.OrderStatusReturned)).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active orders for %s: %w", productID, err)
	}
	return active, nil
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
		docs   orderDocuments
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &status, &o.TotalAmount, &o.DeliveryCost, &o.Postcode, &docs.items, &docs.details,
		&o.SpecialInstructions, &docs.returns, &o.InvoiceGenerated, &o.IsPaid, &o.CancellationReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.OrderStatus(status)

	if err := fromJSONB(docs.items, &o.Items); err != nil {
		return domain.Order{}, err
	}
	if err := fromJSONB(docs.details, &o.DeliveryDetails); err != nil {
		return domain.Order{}, err
	}
	if err := fromJSONB(docs.returns, &o.ReturnItems); err != nil {
		return domain.Order{}, err
	}
	if len(o.ReturnItems) == 0 {
		o.ReturnItems = nil
	}
	return o, nil
}
