package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

func makeProduct() domain.Product {
	product := domain.Product{
		ID:         "product-1",
		Name:       "Shirt",
		CategoryID: "category-1",
		Variants: []domain.Variant{
			{Price: decimal.NewFromInt(10), Quantity: 5, Attributes: domain.Attributes{"size": "M"}},
			{Price: decimal.NewFromInt(12), Quantity: 3, Attributes: domain.Attributes{"size": "L", "color": "red"}},
		},
		PricingByLocation: map[string]decimal.Decimal{"6000": decimal.NewFromInt(9)},
	}
	product.RecomputeStock()
	return product
}

func TestAttributesMatches(t *testing.T) {
	tests := []struct {
		name  string
		a, b  domain.Attributes
		match bool
	}{
		{name: "equal", a: domain.Attributes{"size": "M"}, b: domain.Attributes{"size": "M"}, match: true},
		{name: "order independent", a: domain.Attributes{"size": "L", "color": "red"}, b: domain.Attributes{"color": "red", "size": "L"}, match: true},
		{name: "different value", a: domain.Attributes{"size": "M"}, b: domain.Attributes{"size": "L"}, match: false},
		{name: "subset is not a match", a: domain.Attributes{"size": "L"}, b: domain.Attributes{"size": "L", "color": "red"}, match: false},
		{name: "superset is not a match", a: domain.Attributes{"size": "L", "color": "red"}, b: domain.Attributes{"size": "L"}, match: false},
		{name: "both empty", a: domain.Attributes{}, b: nil, match: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Matches(tc.b); got != tc.match {
				t.Fatalf("Matches() = %v, want %v", got, tc.match)
			}
		})
	}
}

func TestAttributesCanonical(t *testing.T) {
	attrs := domain.Attributes{"size": "L", "color": "red"}
	if got := attrs.Canonical(); got != "color=red;size=L" {
		t.Fatalf("unexpected canonical form %q", got)
	}
}

func TestProductFindVariant(t *testing.T) {
	product := makeProduct()

	idx, ok := product.FindVariant(domain.Attributes{"color": "red", "size": "L"})
	if !ok || idx != 1 {
		t.Fatalf("expected variant 1, got %d (found=%v)", idx, ok)
	}

	if _, ok := product.FindVariant(domain.Attributes{"size": "L"}); ok {
		t.Fatal("partial attributes must not match")
	}
}

func TestProductPriceFor(t *testing.T) {
	product := makeProduct()

	if got := product.PriceFor(0, "6000"); !got.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected location price 9, got %s", got)
	}
	if got := product.PriceFor(0, "9999"); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected variant price 10, got %s", got)
	}
}

func TestProductValidateInvariants(t *testing.T) {
	product := makeProduct()
	if errs := product.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8, got %d", product.Stock)
	}

	product.Variants[0].Quantity = 1
	if errs := product.ValidateInvariants(); len(errs) == 0 {
		t.Fatal("expected stock mismatch error")
	}

	product.RecomputeStock()
	product.ReservedStock = -1
	if errs := product.ValidateInvariants(); len(errs) == 0 {
		t.Fatal("expected negative reserved stock error")
	}
}
