package catalog

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/service/txretry"
)

// Service: операции каталога, которые затрагивают заказы.
type Service struct {
	tx     *txretry.Runner
	read   domain.ReadModel
	logger *log.Entry
}

// NewService создаёт Service; удаление выполняется через retry-обёртку над tx.
func NewService(tx domain.TxManager, read domain.ReadModel, retry txretry.RetryConfig, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{
		tx:     txretry.NewRunner(tx, retry, logger),
		read:   read,
		logger: logger,
	}
}

// GetProduct возвращает товар из каталога.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if id == "" {
		return domain.Product{}, domain.ErrProductRequired
	}
	return s.read.Product(ctx, id)
}

// DeleteProduct удаляет товар, если на него не ссылаются незавершённые заказы.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrProductRequired
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if _, err := uow.Products().Get(ctx, id); err != nil {
			return err
		}
		active, err := uow.Orders().HasActiveForProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("check active orders for %s: %w", id, err)
		}
		if active {
			return fmt.Errorf("%w: %s", domain.ErrProductInUse, id)
		}
		return uow.Products().Delete(ctx, id)
	})
	if err != nil {
		s.logger.WithError(err).WithField("product_id", id).Warn("product delete failed")
		return err
	}

	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}
