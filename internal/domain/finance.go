package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialMetrics: агрегат по возвратам, пересчитываемый при каждом возврате.
type FinancialMetrics struct {
	TotalOrders        int             `json:"totalOrders"`
	TotalReturns       int             `json:"totalReturns"`
	ReturnRate         decimal.Decimal `json:"returnRate"`
	TotalRevenueImpact decimal.Decimal `json:"totalRevenueImpact"`
	ReturnReasons      map[string]int  `json:"returnReasons"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// UnknownReturnReason подставляется, когда причина возврата не указана.
const UnknownReturnReason = "Unknown"
