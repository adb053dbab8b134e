package domain

import (
	"context"
	"time"
)

// ProductRepository: доступ к товарам внутри единицы работы.
type ProductRepository interface {
	// Get загружает товар; в PostgreSQL строка блокируется до конца транзакции.
	Get(ctx context.Context, id string) (Product, error)
	// Save сохраняет товар с проверкой версии и возвращает его с новой версией.
	Save(ctx context.Context, product Product) (Product, error)
	Delete(ctx context.Context, id string) error
}

// CategoryRepository: чтение категорий.
type CategoryRepository interface {
	Get(ctx context.Context, id string) (Category, error)
}

// DeliveryConfigRepository: чтение конфигураций доставки.
type DeliveryConfigRepository interface {
	// GetActiveByCategory возвращает активную конфигурацию или ErrConfigNotFound.
	GetActiveByCategory(ctx context.Context, categoryID string) (DeliveryConfiguration, error)
}

// OrderRepository описывает требования к хранилищу заказов внутри транзакции.
type OrderRepository interface {
	// Create сохраняет новый заказ.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) (Order, error)
	// Count возвращает общее количество заказов.
	Count(ctx context.Context) (int, error)
	// ListWithReturns возвращает заказы, у которых есть строки возврата.
	ListWithReturns(ctx context.Context) ([]Order, error)
	// HasActiveForProduct сообщает, есть ли незавершённые заказы с товаром.
	HasActiveForProduct(ctx context.Context, productID string) (bool, error)
}

// CustomerRepository хранит проекцию клиента.
type CustomerRepository interface {
	Get(ctx context.Context, id string) (Customer, error)
	Upsert(ctx context.Context, customer Customer) error
}

// FinancialMetricsRepository хранит последний снимок финансовых метрик.
type FinancialMetricsRepository interface {
	Get(ctx context.Context) (FinancialMetrics, error)
	Save(ctx context.Context, metrics FinancialMetrics) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxWriter ставит событие в transactional outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository используется воркером публикации.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит ответы мутирующих запросов API по Idempotency-Key.
type IdempotencyRepository interface {
	// Acquire занимает ключ. Если ключ жив, возвращает существующую запись вместе с
	// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	Acquire(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Complete сохраняет ответ; статус записи выводится из httpStatus.
	Complete(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// ReadModel: запросы вне транзакций для read-путей.
type ReadModel interface {
	Order(ctx context.Context, id string) (Order, error)
	Orders(ctx context.Context, filter OrderFilter) (OrderPage, error)
	OrderVolume(ctx context.Context) (OrderVolume, error)
	OrdersByStatus(ctx context.Context, statuses ...OrderStatus) ([]Order, error)
	Product(ctx context.Context, id string) (Product, error)
	FinancialMetrics(ctx context.Context) (FinancialMetrics, error)
	Timeline(ctx context.Context, orderID string) ([]TimelineEvent, error)
}
