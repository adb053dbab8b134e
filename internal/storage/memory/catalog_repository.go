package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// productRepository читает товары с учётом изменений текущей транзакции.
type productRepository struct {
	uow *unitOfWork
}

func (r productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	if staged, ok := r.uow.products[id]; ok {
		if staged == nil {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return staged.Clone(), nil
	}

	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p.Clone(), nil
}

// Save перезаписывает товар, проверяя версию (optimistic locking).
func (r productRepository) Save(ctx context.Context, product domain.Product) (domain.Product, error) {
	current, err := r.Get(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if current.Version != product.Version {
		return domain.Product{}, domain.ErrWriteConflict
	}

	product.Version++
	product.UpdatedAt = time.Now().UTC()
	staged := product.Clone()
	r.uow.products[product.ID] = &staged
	return product, nil
}

func (r productRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.uow.products[id] = nil
	return nil
}

type categoryRepository struct {
	uow *unitOfWork
}

func (r categoryRepository) Get(_ context.Context, id string) (domain.Category, error) {
	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return c, nil
}

type deliveryConfigRepository struct {
	uow *unitOfWork
}

func (r deliveryConfigRepository) GetActiveByCategory(_ context.Context, categoryID string) (domain.DeliveryConfiguration, error) {
	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cfg := range s.configs {
		if cfg.CategoryID == categoryID && cfg.IsActive {
			cfg.ApplicablePostcodes = append([]string(nil), cfg.ApplicablePostcodes...)
			return cfg, nil
		}
	}
	return domain.DeliveryConfiguration{}, domain.ErrConfigNotFound
}
