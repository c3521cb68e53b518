package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerAging splits a debtor's unpaid charges by age. Payments and
// credits settle the oldest charges first, so the buckets add up to the
// ledger balance.
type CustomerAging struct {
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Balance       decimal.Decimal `json:"balance"`
	Current       decimal.Decimal `json:"current_0_30"`
	Overdue31To60 decimal.Decimal `json:"overdue_31_60"`
	Overdue61To90 decimal.Decimal `json:"overdue_61_90"`
	Overdue91Plus decimal.Decimal `json:"overdue_91_plus"`
}

type AgingReport struct {
	AsOf            time.Time       `json:"as_of"`
	TotalReceivable decimal.Decimal `json:"total_receivable"`
	Customers       []CustomerAging `json:"customers"`
}

type TopItem struct {
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// DailySummary covers one UTC day of a branch. Revenue counts open and paid
// invoices; returns booked the same day are reported apart and netted out of
// the gross profit.
type DailySummary struct {
	Date         string                            `json:"date"`
	BranchID     string                            `json:"branch_id"`
	Transactions int                               `json:"transactions_count"`
	Revenue      decimal.Decimal                   `json:"total_revenue"`
	Returns      decimal.Decimal                   `json:"total_returns"`
	NetRevenue   decimal.Decimal                   `json:"net_revenue"`
	GrossProfit  decimal.Decimal                   `json:"gross_profit"`
	Payments     map[PaymentMethod]decimal.Decimal `json:"payments"`
	TopItems     []TopItem                         `json:"top_selling_items"`
}
