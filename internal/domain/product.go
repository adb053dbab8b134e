package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant: конкретная комбинация атрибутов товара со своей ценой и остатком.
type Variant struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Attributes Attributes      `json:"attributes"`
}

// Product: товар каталога; счётчики остатков меняет только InventoryLedger.
type Product struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	CategoryID        string                     `json:"categoryId"`
	Stock             int                        `json:"stock"`
	ReservedStock     int                        `json:"reservedStock"`
	Variants          []Variant                  `json:"variantDetails"`
	PricingByLocation map[string]decimal.Decimal `json:"pricingByLocation,omitempty"`
	ReturnCount       int                        `json:"returnCount"`
	ReturnReasons     []string                   `json:"returnReasons,omitempty"`
	Version           int64                      `json:"version"`
	CreatedAt         time.Time                  `json:"createdAt"`
	UpdatedAt         time.Time                  `json:"updatedAt"`
}

// FindVariant ищет вариант с точно совпадающими атрибутами и возвращает его индекс.
func (p *Product) FindVariant(attrs Attributes) (int, bool) {
	for i := range p.Variants {
		if p.Variants[i].Attributes.Matches(attrs) {
			return i, true
		}
	}
	return -1, false
}

// RecomputeStock пересчитывает Stock как сумму остатков вариантов.
func (p *Product) RecomputeStock() {
	total := 0
	for _, v := range p.Variants {
		total += v.Quantity
	}
	p.Stock = total
}

// PriceFor возвращает цену варианта с учётом цены по индексу доставки.
func (p *Product) PriceFor(variantIdx int, postcode string) decimal.Decimal {
	if price, ok := p.PricingByLocation[postcode]; ok && postcode != "" {
		return price
	}
	return p.Variants[variantIdx].Price
}

// ValidateInvariants проверяет инварианты остатков товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error
	total := 0
	for _, v := range p.Variants {
		if v.Quantity < 0 {
			errs = append(errs, ErrNegativeStock)
		}
		total += v.Quantity
	}
	if total != p.Stock {
		errs = append(errs, ErrStockMismatch)
	}
	if p.ReservedStock < 0 {
		errs = append(errs, ErrNegativeStock)
	}
	return errs
}

func (p Product) Clone() Product {
	out := p
	out.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.Attributes = v.Attributes.Clone()
		out.Variants[i] = v
	}
	if p.PricingByLocation != nil {
		out.PricingByLocation = make(map[string]decimal.Decimal, len(p.PricingByLocation))
		for k, v := range p.PricingByLocation {
			out.PricingByLocation[k] = v
		}
	}
	out.ReturnReasons = append([]string(nil), p.ReturnReasons...)
	return out
}
