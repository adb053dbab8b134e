package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Поля сортировки отчёта продаж по товарам.
const (
	SortByRevenue   = "totalRevenue"
	SortByUnitsSold = "totalUnitsSold"
	SortByProductID = "productId"
)

// ProductSummary: краткие сведения о товаре для отчётов.
type ProductSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID string `json:"categoryId"`
}

// ProductSales: продажи одного товара по завершённым заказам.
// Product пуст, если товар уже удалён из каталога.
type ProductSales struct {
	ProductID      string          `json:"productId"`
	Product        *ProductSummary `json:"product,omitempty"`
	TotalUnitsSold int             `json:"totalUnitsSold"`
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
}

// ProductSalesFilter: сортировка и пагинация отчёта продаж.
type ProductSalesFilter struct {
	SortField string `json:"sort"`
	SortDesc  bool   `json:"desc"`
	Page      int    `json:"page"`
	PerPage   int    `json:"perPage"`
}

// Normalize подставляет значения по умолчанию и проверяет поле сортировки.
func (f *ProductSalesFilter) Normalize() error {
	switch f.SortField {
	case "":
		f.SortField = SortByRevenue
	case SortByRevenue, SortByUnitsSold, SortByProductID:
	default:
		return fmt.Errorf("%w: unknown sort field %q", domain.ErrInvalidArgument, f.SortField)
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = domain.DefaultPerPage
	}
	f.PerPage = min(f.PerPage, domain.MaxPerPage)
	return nil
}

// ProductSalesPage: страница отчёта продаж по товарам.
type ProductSalesPage struct {
	Data      []ProductSales `json:"data"`
	Page      int            `json:"page"`
	PerPage   int            `json:"perPage"`
	Total     int            `json:"total"`
	TotalPage int            `json:"totalPage"`
}

// ProductReturns: возвраты одного товара по заказам в статусе RETURNED.
type ProductReturns struct {
	ProductID    string          `json:"productId"`
	Product      *ProductSummary `json:"product,omitempty"`
	TotalReturns int             `json:"totalReturns"`
	Reasons      []string        `json:"reasons"`
}

// ProductSales возвращает страницу продаж по товарам: проданные единицы и выручку.
func (f *Facade) ProductSales(ctx context.Context, filter ProductSalesFilter) (ProductSalesPage, error) {
	if err := filter.Normalize(); err != nil {
		return ProductSalesPage{}, err
	}
	ctx, span := f.tracer.Start(ctx, "ProductSales", trace.WithAttributes(
		attribute.String("report.sort", filter.SortField),
		attribute.Int("report.page", filter.Page),
	))
	defer span.End()

	completed, err := f.read.OrdersByStatus(ctx, domain.OrderStatusCompleted)
	if err != nil {
		return ProductSalesPage{}, err
	}

	byProduct := make(map[string]*ProductSales)
	for _, o := range completed {
		for _, item := range o.Items {
			s, ok := byProduct[item.ProductID]
			if !ok {
				s = &ProductSales{ProductID: item.ProductID, TotalRevenue: decimal.Zero}
				byProduct[item.ProductID] = s
			}
			s.TotalUnitsSold += item.Quantity
			s.TotalRevenue = s.TotalRevenue.Add(item.LineTotal())
		}
	}

	rows := make([]ProductSales, 0, len(byProduct))
	for _, s := range byProduct {
		rows = append(rows, *s)
	}
	sortProductSales(rows, filter.SortField, filter.SortDesc)

	total := len(rows)
	start := min((filter.Page-1)*filter.PerPage, total)
	end := min(start+filter.PerPage, total)
	page := rows[start:end]

	details := newProductLookup(f.read)
	for i := range page {
		if page[i].Product, err = details.summary(ctx, page[i].ProductID); err != nil {
			return ProductSalesPage{}, err
		}
	}

	return ProductSalesPage{
		Data:      page,
		Page:      filter.Page,
		PerPage:   filter.PerPage,
		Total:     total,
		TotalPage: (total + filter.PerPage - 1) / filter.PerPage,
	}, nil
}

// ProductReturns собирает по каждому товару число возвращённых единиц и причины возврата.
func (f *Facade) ProductReturns(ctx context.Context) ([]ProductReturns, error) {
	ctx, span := f.tracer.Start(ctx, "ProductReturns")
	defer span.End()

	returned, err := f.read.OrdersByStatus(ctx, domain.OrderStatusReturned)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*ProductReturns)
	for _, o := range returned {
		for _, line := range o.ReturnItems {
			r, ok := byProduct[line.ProductID]
			if !ok {
				r = &ProductReturns{ProductID: line.ProductID, Reasons: []string{}}
				byProduct[line.ProductID] = r
			}
			r.TotalReturns += line.Quantity
			reason := line.Reason
			if reason == "" {
				reason = domain.UnknownReturnReason
			}
			r.Reasons = append(r.Reasons, reason)
		}
	}

	details := newProductLookup(f.read)
	result := make([]ProductReturns, 0, len(byProduct))
	for _, r := range byProduct {
		if r.Product, err = details.summary(ctx, r.ProductID); err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalReturns != result[j].TotalReturns {
			return result[i].TotalReturns > result[j].TotalReturns
		}
		return result[i].ProductID < result[j].ProductID
	})
	return result, nil
}

func sortProductSales(rows []ProductSales, field string, desc bool) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		var c int
		switch field {
		case SortByUnitsSold:
			c = a.TotalUnitsSold - b.TotalUnitsSold
		case SortByProductID:
			c = strings.Compare(a.ProductID, b.ProductID)
		default:
			c = a.TotalRevenue.Cmp(b.TotalRevenue)
		}
		if c == 0 {
			return a.ProductID < b.ProductID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// productLookup читает товары один раз на отчёт.
type productLookup struct {
	read  domain.ReadModel
	known map[string]*ProductSummary
}

func newProductLookup(read domain.ReadModel) *productLookup {
	return &productLookup{read: read, known: make(map[string]*ProductSummary)}
}

func (l *productLookup) summary(ctx context.Context, id string) (*ProductSummary, error) {
	if s, ok := l.known[id]; ok {
		return s, nil
	}
	p, err := l.read.Product(ctx, id)
	if errors.Is(err, domain.ErrProductNotFound) {
		l.known[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}
	s := &ProductSummary{ID: p.ID, Name: p.Name, CategoryID: p.CategoryID}
	l.known[id] = s
	return s, nil
}
