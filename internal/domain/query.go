package domain

import "time"

// Допустимые поля сортировки списка заказов.
const (
	SortByCreatedAt   = "createdAt"
	SortByTotalAmount = "totalAmount"
	SortByStatus      = "status"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// OrderFilter: фильтры, сортировка и пагинация списка заказов.
type OrderFilter struct {
	Status     OrderStatus `json:"status,omitempty"`
	CustomerID string      `json:"customerId,omitempty"`
	From       *time.Time  `json:"from,omitempty"`
	To         *time.Time  `json:"to,omitempty"`
	SortField  string      `json:"sort"`
	SortDesc   bool        `json:"desc"`
	Page       int         `json:"page"`
	PerPage    int         `json:"perPage"`
}

// Normalize подставляет значения по умолчанию и проверяет фильтр.
func (f *OrderFilter) Normalize() error {
	if f.Status != "" && !f.Status.Valid() {
		return ErrInvalidStatus
	}
	switch f.SortField {
	case "":
		f.SortField = SortByCreatedAt
	case SortByCreatedAt, SortByTotalAmount, SortByStatus:
	default:
		return ErrInvalidArgument
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return ErrInvalidArgument
	}
	return nil
}

// Offset возвращает смещение для текущей страницы.
func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// OrderPage: страница списка заказов.
type OrderPage struct {
	Data      []Order `json:"data"`
	Page      int     `json:"page"`
	PerPage   int     `json:"perPage"`
	Total     int     `json:"total"`
	TotalPage int     `json:"totalPage"`
}

// NewOrderPage собирает страницу и считает количество страниц.
func NewOrderPage(data []Order, filter OrderFilter, total int) OrderPage {
	if data == nil {
		data = []Order{}
	}
	totalPage := 0
	if filter.PerPage > 0 {
		totalPage = (total + filter.PerPage - 1) / filter.PerPage
	}
	return OrderPage{
		Data:      data,
		Page:      filter.Page,
		PerPage:   filter.PerPage,
		Total:     total,
		TotalPage: totalPage,
	}
}

// OrderVolume: количество заказов по ключевым статусам.
type OrderVolume struct {
	Placed    int `json:"placed"`
	Fulfilled int `json:"fulfilled"`
	Pending   int `json:"pending"`
}
