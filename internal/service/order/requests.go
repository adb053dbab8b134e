package order

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// ItemRequest: позиция в запросе на создание или изменение заказа.
type ItemRequest struct {
	ProductID         string            `json:"productId"`
	Quantity          int               `json:"quantity"`
	VariantAttributes domain.Attributes `json:"variantAttributes"`
}

// CreateRequest: данные для создания заказа.
type CreateRequest struct {
	Items               []ItemRequest          `json:"items"`
	DeliveryDetails     domain.DeliveryDetails `json:"deliveryDetails"`
	SpecialInstructions string                 `json:"specialInstructions,omitempty"`
}

// Validate возвращает первую ошибку валидации.
func (r CreateRequest) Validate() error {
	return validateItems(r.Items)
}

// UpdatePatch: частичное изменение заказа; nil означает "не менять".
type UpdatePatch struct {
	Items               *[]ItemRequest          `json:"items,omitempty"`
	DeliveryDetails     *domain.DeliveryDetails `json:"deliveryDetails,omitempty"`
	SpecialInstructions *string                 `json:"specialInstructions,omitempty"`
}

// Validate возвращает первую ошибку валидации.
func (p UpdatePatch) Validate() error {
	if p.Items != nil {
		return validateItems(*p.Items)
	}
	return nil
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return domain.ErrItemsRequired
	}
	for i, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d", domain.ErrProductRequired, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d", domain.ErrInvalidQuantity, i)
		}
	}
	return nil
}

// lineKey идентифицирует строку заказа: товар плюс точный набор атрибутов.
// Части экранируются через strconv.Quote, поэтому разные наборы не склеиваются в один ключ.
func lineKey(productID string, attrs domain.Attributes) string {
	var b strings.Builder
	b.WriteString(strconv.Quote(productID))
	for _, key := range attrs.Keys() {
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(key))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(attrs[key]))
	}
	return b.String()
}
