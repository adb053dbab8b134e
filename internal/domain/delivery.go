package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LocalPostcodes: фиксированный набор "локальных" индексов для региональных тарифов.
var LocalPostcodes = []string{"6000", "6001", "6002"}

// IsLocalPostcode сообщает, относится ли индекс к локальной зоне.
func IsLocalPostcode(postcode string) bool {
	for _, p := range LocalPostcodes {
		if p == postcode {
			return true
		}
	}
	return false
}

// Category: категория каталога (только чтение).
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegionRates: двухуровневый тариф: локальный и национальный.
type RegionRates struct {
	Local    decimal.Decimal `json:"local"`
	National decimal.Decimal `json:"national"`
}

// DeliveryConfiguration описывает правила тарификации доставки для категории.
type DeliveryConfiguration struct {
	ID                  string           `json:"id"`
	CategoryID          string           `json:"categoryId"`
	FlatRate            *decimal.Decimal `json:"flatRate,omitempty"`
	ApplicablePostcodes []string         `json:"applicablePostcodes,omitempty"`
	RegionRates         *RegionRates     `json:"regionSpecificRates,omitempty"`
	IsActive            bool             `json:"isActive"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// Serves проверяет, входит ли индекс в allow-list flat-rate тарифа.
func (c *DeliveryConfiguration) Serves(postcode string) bool {
	for _, p := range c.ApplicablePostcodes {
		if p == postcode {
			return true
		}
	}
	return false
}

// Customer: минимальная проекция внешнего пользователя.
type Customer struct {
	ID        string    `json:"id"`
	Postcode  string    `json:"postcode,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
