package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в back office.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, товары зарезервированы.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing: заказ передан в обработку.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusInTransit: заказ передан службе доставки.
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	// OrderStatusDelivered: заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCompleted: заказ исполнен, резервы финализированы.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCanceled: заказ отменён, резервы сняты.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusReturned: по заказу оформлен возврат.
	OrderStatusReturned OrderStatus = "RETURNED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusInTransit, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCanceled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCanceled || s == OrderStatusReturned
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID         string          `json:"productId"`
	Quantity          int             `json:"quantity"`
	VariantAttributes Attributes      `json:"variantAttributes"`
	Price             decimal.Decimal `json:"price"`
}

// LineTotal: цена позиции с учётом количества.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// DeliveryDetails: адрес и параметры доставки.
type DeliveryDetails struct {
	AddressLine1         string     `json:"addressLine1,omitempty"`
	AddressLine2         string     `json:"addressLine2,omitempty"`
	City                 string     `json:"city,omitempty"`
	State                string     `json:"state,omitempty"`
	PostalCode           string     `json:"postalCode,omitempty"`
	Country              string     `json:"country,omitempty"`
	DeliveryDate         *time.Time `json:"deliveryDate,omitempty"`
	DeliveryInstructions string     `json:"deliveryInstructions,omitempty"`
}

// ReturnItem: строка возврата по заказу.
type ReturnItem struct {
	ProductID  string     `json:"productId"`
	Quantity   int        `json:"quantity"`
	Reason     string     `json:"reason,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                  string          `json:"id"`
	CustomerID          string          `json:"customerId"`
	Items               []OrderItem     `json:"items"`
	Status              OrderStatus     `json:"status"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	DeliveryCost        decimal.Decimal `json:"deliveryCost"`
	Postcode            string          `json:"postcode"`
	DeliveryDetails     DeliveryDetails `json:"deliveryDetails"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	ReturnItems         []ReturnItem    `json:"returnItems,omitempty"`
	InvoiceGenerated    bool            `json:"invoiceGenerated"`
	IsPaid              bool            `json:"isPaid"`
	CancellationReason  string          `json:"cancellationReason,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// ItemsTotal: сумма позиций без доставки.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// RecalculateTotal фиксирует TotalAmount = сумма позиций + доставка.
func (o *Order) RecalculateTotal() {
	o.TotalAmount = o.ItemsTotal().Add(o.DeliveryCost)
}

// OrderedQuantity возвращает суммарное заказанное количество товара.
func (o *Order) OrderedQuantity(productID string) int {
	qty := 0
	for _, item := range o.Items {
		if item.ProductID == productID {
			qty += item.Quantity
		}
	}
	return qty
}

// ReturnedQuantity возвращает количество уже возвращённых единиц товара.
func (o *Order) ReturnedQuantity(productID string) int {
	qty := 0
	for _, item := range o.ReturnItems {
		if item.ProductID == productID {
			qty += item.Quantity
		}
	}
	return qty
}

// FindItem ищет позицию по товару; attrs == nil означает "любой вариант".
func (o *Order) FindItem(productID string, attrs Attributes) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ProductID != productID {
			continue
		}
		if attrs == nil || item.VariantAttributes.Matches(attrs) {
			return item, true
		}
	}
	return OrderItem{}, false
}

// OrderedVariants возвращает различные наборы атрибутов, в которых заказан товар.
func (o *Order) OrderedVariants(productID string) []Attributes {
	var variants []Attributes
	for _, item := range o.Items {
		if item.ProductID != productID {
			continue
		}
		seen := false
		for _, attrs := range variants {
			if attrs.Matches(item.VariantAttributes) {
				seen = true
				break
			}
		}
		if !seen {
			variants = append(variants, item.VariantAttributes)
		}
	}
	return variants
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if !o.TotalAmount.Equal(o.ItemsTotal().Add(o.DeliveryCost)) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

func (o Order) Clone() Order {
	out := o
	out.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.VariantAttributes = item.VariantAttributes.Clone()
		out.Items[i] = item
	}
	if o.ReturnItems != nil {
		out.ReturnItems = make([]ReturnItem, len(o.ReturnItems))
		for i, item := range o.ReturnItems {
			item.Attributes = item.Attributes.Clone()
			out.ReturnItems[i] = item
		}
	}
	if o.DeliveryDetails.DeliveryDate != nil {
		date := *o.DeliveryDetails.DeliveryDate
		out.DeliveryDetails.DeliveryDate = &date
	}
	return out
}
