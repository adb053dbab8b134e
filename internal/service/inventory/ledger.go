package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Ledger ведёт остатки вариантов и резерв товара внутри единицы работы вызывающего.
type Ledger struct {
	logger *log.Entry
}

// NewLedger создаёт Ledger.
func NewLedger(logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	return &Ledger{logger: logger}
}

// Reserve списывает qty с варианта и переносит его в ReservedStock.
func (l *Ledger) Reserve(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error {
	return l.apply(ctx, uow, productID, attrs, qty, func(p *domain.Product, v *domain.Variant) error {
		if v.Quantity < qty {
			return fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, productID, v.Quantity, qty)
		}
		v.Quantity -= qty
		p.ReservedStock += qty
		return nil
	})
}

// Release возвращает зарезервированное количество обратно в вариант.
func (l *Ledger) Release(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error {
	return l.apply(ctx, uow, productID, attrs, qty, func(p *domain.Product, v *domain.Variant) error {
		v.Quantity += qty
		l.decreaseReserved(p, qty, "release")
		return nil
	})
}

// Finalize снимает резерв исполненного заказа; остаток варианта уже уменьшен при Reserve.
func (l *Ledger) Finalize(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int) error {
	return l.apply(ctx, uow, productID, attrs, qty, func(p *domain.Product, _ *domain.Variant) error {
		l.decreaseReserved(p, qty, "finalize")
		return nil
	})
}

// Restock возвращает товар на склад по возврату и учитывает причину.
func (l *Ledger) Restock(ctx context.Context, uow domain.UnitOfWork, productID string, attrs domain.Attributes, qty int, reason string) error {
	return l.apply(ctx, uow, productID, attrs, qty, func(p *domain.Product, v *domain.Variant) error {
		v.Quantity += qty
		l.decreaseReserved(p, qty, "restock")
		if reason != "" {
			p.ReturnReasons = append(p.ReturnReasons, reason)
		}
		p.ReturnCount += qty
		return nil
	})
}

func (l *Ledger) apply(
	ctx context.Context,
	uow domain.UnitOfWork,
	productID string,
	attrs domain.Attributes,
	qty int,
	mutate func(p *domain.Product, v *domain.Variant) error,
) error {
	if productID == "" {
		return domain.ErrProductRequired
	}
	if qty <= 0 {
		return fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, qty)
	}

	product, err := uow.Products().Get(ctx, productID)
	if err != nil {
		return fmt.Errorf("load product %s: %w", productID, err)
	}

	idx, ok := product.FindVariant(attrs)
	if !ok {
		return fmt.Errorf("%w: product %s attributes %q", domain.ErrVariantNotFound, productID, attrs.Canonical())
	}

	if err := mutate(&product, &product.Variants[idx]); err != nil {
		return err
	}
	product.RecomputeStock()

	if _, err := uow.Products().Save(ctx, product); err != nil {
		return fmt.Errorf("save product %s: %w", productID, err)
	}
	return nil
}

// decreaseReserved уменьшает резерв, не опуская его ниже нуля.
func (l *Ledger) decreaseReserved(p *domain.Product, qty int, op string) {
	if p.ReservedStock < qty {
		l.logger.WithFields(log.Fields{
			"product_id": p.ID,
			"reserved":   p.ReservedStock,
			"quantity":   qty,
			"operation":  op,
		}).Warn("reserved stock lower than requested quantity, clamping to zero")
		p.ReservedStock = 0
		return
	}
	p.ReservedStock -= qty
}
