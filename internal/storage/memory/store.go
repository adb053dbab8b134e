package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Store: in-memory хранилище back office для разработки и тестов.
// Транзакции сериализуются: в каждый момент открыта не более чем одна единица работы,
// изменения копятся в ней и применяются к базовому состоянию только при commit.
type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	products   map[string]domain.Product
	categories map[string]domain.Category
	configs    map[string]domain.DeliveryConfiguration
	orders     map[string]domain.Order
	customers  map[string]domain.Customer
	metrics    *domain.FinancialMetrics
	timeline   map[string][]domain.TimelineEvent

	outbox *outboxLog
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		categories: make(map[string]domain.Category),
		configs:    make(map[string]domain.DeliveryConfiguration),
		orders:     make(map[string]domain.Order),
		customers:  make(map[string]domain.Customer),
		timeline:   make(map[string][]domain.TimelineEvent),
		outbox:     NewOutboxRepository(),
	}
}

// RunInTx выполняет fn в изолированной единице работы.
// При ошибке (или панике) накопленные изменения отбрасываются.
func (s *Store) RunInTx(ctx context.Context, fn domain.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	uow := newUnitOfWork(s)
	if err := fn(ctx, uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.commit(ctx, uow)
}

// Outbox возвращает репозиторий outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return s.outbox
}

func (s *Store) commit(ctx context.Context, uow *unitOfWork) error {
	s.mu.Lock()
	for id, p := range uow.products {
		if p == nil {
			delete(s.products, id)
			continue
		}
		s.products[id] = p.Clone()
	}
	for id, o := range uow.orders {
		s.orders[id] = o.Clone()
	}
	for id, c := range uow.customers {
		s.customers[id] = c
	}
	if uow.metrics != nil {
		m := cloneMetrics(*uow.metrics)
		s.metrics = &m
	}
	for _, ev := range uow.timeline {
		s.timeline[ev.OrderID] = insertOrdered(s.timeline[ev.OrderID], ev)
	}
	s.mu.Unlock()

	for _, msg := range uow.outbox {
		if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// PutProduct сохраняет товар напрямую (сиды и тесты). Stock пересчитывается из вариантов.
func (s *Store) PutProduct(p domain.Product) domain.Product {
	p = p.Clone()
	p.RecomputeStock()
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return p.Clone()
}

// PutCategory сохраняет категорию.
func (s *Store) PutCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// PutDeliveryConfig сохраняет конфигурацию доставки; активная конфигурация категории
// вытесняет предыдущую активную.
func (s *Store) PutDeliveryConfig(cfg domain.DeliveryConfiguration) {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.IsActive {
		for id, existing := range s.configs {
			if existing.CategoryID == cfg.CategoryID && existing.IsActive && id != cfg.ID {
				existing.IsActive = false
				s.configs[id] = existing
			}
		}
	}
	s.configs[cfg.ID] = cfg
}

// PutCustomer сохраняет проекцию клиента.
func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// PutOrder сохраняет заказ без побочных эффектов (тесты отчётов).
func (s *Store) PutOrder(o domain.Order) {
	if o.Version == 0 {
		o.Version = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
}

func cloneMetrics(m domain.FinancialMetrics) domain.FinancialMetrics {
	out := m
	out.ReturnReasons = make(map[string]int, len(m.ReturnReasons))
	for k, v := range m.ReturnReasons {
		out.ReturnReasons[k] = v
	}
	return out
}

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.ReadModel = (*Store)(nil)
)
