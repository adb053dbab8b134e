package domain

import (
	"context"
	"time"
)

// UnitOfWork открывает доступ к репозиториям, привязанным к одной транзакции.
type UnitOfWork interface {
	Products() ProductRepository
	Categories() CategoryRepository
	DeliveryConfigs() DeliveryConfigRepository
	Orders() OrderRepository
	Customers() CustomerRepository
	FinancialMetrics() FinancialMetricsRepository
	Timeline() TimelineRepository
	Outbox() OutboxWriter
}

// TxFunc выполняется внутри транзакции; ошибка откатывает все изменения.
type TxFunc func(ctx context.Context, uow UnitOfWork) error

// TxManager запускает единицу работы: commit при успехе, rollback при ошибке.
type TxManager interface {
	RunInTx(ctx context.Context, fn TxFunc) error
}

// FinancialMetricsRecomputation пересчитывает финансовые метрики в транзакции вызывающего.
type FinancialMetricsRecomputation interface {
	Recompute(ctx context.Context, uow UnitOfWork) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
// FailedCount: события, ушедшие в DLQ и ожидающие ручного replay.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
