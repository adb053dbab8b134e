package domain

import "errors"

// ErrorKind классифицирует доменные ошибки для транспортного слоя.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidArgument   ErrorKind = "invalid_argument"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "conflict"
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindForbidden         ErrorKind = "forbidden"
	KindUnknown           ErrorKind = "unknown"
)

// Error: типизированная доменная ошибка с машинным кодом.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = newError(KindNotFound, "order_not_found", "order not found")
	// ErrProductNotFound: товар отсутствует в каталоге.
	ErrProductNotFound = newError(KindNotFound, "product_not_found", "product not found")
	// ErrVariantNotFound: у товара нет варианта с точно таким набором атрибутов.
	ErrVariantNotFound = newError(KindNotFound, "variant_not_found", "variant not found")
	// ErrCategoryNotFound: категория товара не найдена.
	ErrCategoryNotFound = newError(KindNotFound, "category_not_found", "category not found")
	// ErrConfigNotFound: для категории нет активной конфигурации доставки.
	ErrConfigNotFound   = newError(KindNotFound, "delivery_config_not_found", "delivery configuration not found")
	ErrCustomerNotFound = newError(KindNotFound, "customer_not_found", "customer not found")

	// ErrInsufficientStock: остатка варианта не хватает для резерва.
	ErrInsufficientStock = newError(KindInvalidArgument, "insufficient_stock", "insufficient stock")
	// ErrPostcodeNotServiceable: flat-rate доставка не обслуживает индекс.
	ErrPostcodeNotServiceable = newError(KindInvalidArgument, "postcode_not_serviceable", "delivery is not available for postcode")
	// ErrPostcodeRequired: не удалось определить индекс доставки.
	ErrPostcodeRequired = newError(KindInvalidArgument, "postcode_required", "delivery postcode is required")
	// ErrInvalidReturnQuantity: возвращают больше, чем было заказано.
	ErrInvalidReturnQuantity = newError(KindInvalidArgument, "invalid_return_quantity", "invalid return quantity")
	// ErrReturnVariantRequired: товар заказан в нескольких вариантах, а строка возврата их не указывает.
	ErrReturnVariantRequired = newError(KindInvalidArgument, "return_variant_required", "return line must specify variant attributes")
	// ErrInvalidQuantity: количество позиции должно быть больше нуля.
	ErrInvalidQuantity = newError(KindInvalidArgument, "invalid_quantity", "quantity must be greater than zero")
	// ErrInvalidStatus: неизвестный статус заказа.
	ErrInvalidStatus   = newError(KindInvalidArgument, "invalid_status", "unknown order status")
	ErrItemsRequired   = newError(KindInvalidArgument, "items_required", "order must contain at least one item")
	ErrProductRequired = newError(KindInvalidArgument, "product_required", "product id is required")
	ErrOrderIDRequired = newError(KindInvalidArgument, "order_id_required", "order id is required")
	// ErrCustomerRequired: у заказа нет идентификатора клиента.
	ErrCustomerRequired = newError(KindInvalidArgument, "customer_required", "customer id is required")
	// ErrNegativeStock: остаток или резерв ушёл в минус.
	ErrNegativeStock = newError(KindInvalidArgument, "negative_stock", "stock counters must be non-negative")
	// ErrStockMismatch: Stock не равен сумме остатков вариантов.
	ErrStockMismatch = newError(KindInvalidArgument, "stock_mismatch", "product stock does not match variants sum")
	// ErrAmountMismatch: сумма заказа не сходится с позициями и доставкой.
	ErrAmountMismatch = newError(KindInvalidArgument, "amount_mismatch", "order total does not match items sum and delivery cost")
	// ErrInvalidArgument: общая ошибка валидации запроса.
	ErrInvalidArgument = newError(KindInvalidArgument, "invalid_argument", "invalid argument")

	// ErrInvalidTransition: переход статуса запрещён машиной состояний.
	ErrInvalidTransition = newError(KindInvalidTransition, "invalid_transition", "invalid order status transition")
	// ErrNoChange: целевой статус совпадает с текущим.
	ErrNoChange = newError(KindInvalidTransition, "no_change", "order already has the requested status")

	// ErrWriteConflict сигнализирует о конфликте версий или сериализации транзакции.
	ErrWriteConflict = newError(KindConflict, "write_conflict", "concurrent write conflict")
	// ErrProductInUse: товар используется незавершёнными заказами.
	ErrProductInUse = newError(KindConflict, "product_in_use", "product is referenced by active orders")

	ErrUnauthenticated = newError(KindUnauthenticated, "unauthenticated", "authentication required")
	ErrForbidden       = newError(KindForbidden, "forbidden", "insufficient role")

	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = newError(KindInvalidArgument, "idempotency_key_required", "idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = newError(KindInvalidArgument, "idempotency_hash_required", "idempotency request hash is required")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = newError(KindConflict, "idempotency_hash_mismatch", "idempotency key is already used with different request payload")
	// ErrIdempotencyKeyAlreadyExists: запись по ключу уже существует.
	ErrIdempotencyKeyAlreadyExists = newError(KindConflict, "idempotency_key_exists", "idempotency key already exists")
	ErrIdempotencyKeyNotFound      = newError(KindNotFound, "idempotency_key_not_found", "idempotency key not found")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// KindOf возвращает класс ошибки; неизвестные ошибки считаются KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindUnknown
}

// CodeOf возвращает машинный код ошибки.
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "internal"
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
