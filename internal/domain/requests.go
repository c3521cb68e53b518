package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	BranchID string `json:"branch_id"`
}

type CashierUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type SaleItem struct {
	SKU string          `json:"sku" validate:"required"`
	Qty decimal.Decimal `json:"qty"`
}

type PaymentInput struct {
	Method    PaymentMethod   `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type SaleRequest struct {
	CustomerID string         `json:"customer_id,omitempty"`
	Items      []SaleItem     `json:"items" validate:"required,min=1,dive"`
	Payments   []PaymentInput `json:"payments" validate:"dive"`
	Notes      string         `json:"notes,omitempty"`
}

type SaleResult struct {
	SaleID     string          `json:"sale_id"`
	Folio      string          `json:"folio"`
	Status     DocumentStatus  `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Change     decimal.Decimal `json:"change"`
	CreditDebt decimal.Decimal `json:"credit_debt"`
}

type QuoteRequest struct {
	CustomerID string     `json:"customer_id,omitempty"`
	Items      []SaleItem `json:"items" validate:"required,min=1,dive"`
	Notes      string     `json:"notes,omitempty"`
}

type QuoteConvertRequest struct {
	Payments []PaymentInput `json:"payments" validate:"dive"`
}

type ReturnItem struct {
	SKU string          `json:"sku" validate:"required"`
	Qty decimal.Decimal `json:"qty"`
}

type ReturnRequest struct {
	SaleID       string        `json:"sale_id"`
	Items        []ReturnItem  `json:"items" validate:"required,min=1,dive"`
	Reason       string        `json:"reason" validate:"required"`
	RefundMethod PaymentMethod `json:"refund_method" validate:"required"`
	ManagerPIN   string        `json:"manager_pin,omitempty"`
}

type ReturnResult struct {
	ReturnID string          `json:"return_id"`
	Folio    string          `json:"folio"`
	Refund   decimal.Decimal `json:"refund"`
	PaidBack decimal.Decimal `json:"paid_back"`
	Credited decimal.Decimal `json:"credited"`
	Method   PaymentMethod   `json:"method"`
}

type MovementInput struct {
	BranchID  string
	VariantID string
	UserID    string
	Type      MovementType
	QtyChange decimal.Decimal
	Reference string
	Notes     string
}

type StockAdjustRequest struct {
	BranchID  string          `json:"branch_id,omitempty"`
	VariantID string          `json:"variant_id" validate:"required"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason" validate:"required"`
	Notes     string          `json:"notes,omitempty"`
}

type StockAdjustResponse struct {
	NewQty   decimal.Decimal   `json:"new_qty"`
	Movement InventoryMovement `json:"movement"`
}

type PurchaseReceiveRequest struct {
	BranchID  string          `json:"branch_id,omitempty"`
	VariantID string          `json:"variant_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Reference string          `json:"reference,omitempty"`
}

type StockTransferRequest struct {
	FromBranchID string          `json:"from_branch_id,omitempty"`
	ToBranchID   string          `json:"to_branch_id" validate:"required"`
	VariantID    string          `json:"variant_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty"`
	Notes        string          `json:"notes,omitempty"`
}

type StockTransferResponse struct {
	Reference string            `json:"reference"`
	Out       InventoryMovement `json:"out"`
	In        InventoryMovement `json:"in"`
}

type RebuildResult struct {
	Key    string          `json:"key"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
	Drift  decimal.Decimal `json:"drift"`
}

type CashSessionOpenRequest struct {
	UserID         string          `json:"user_id,omitempty"`
	BranchID       string          `json:"branch_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CashSessionCloseRequest struct {
	CountedAmount decimal.Decimal `json:"counted_amount"`
	Notes         string          `json:"notes,omitempty"`
}

type CashSessionCloseResponse struct {
	Expected   decimal.Decimal `json:"expected"`
	Reported   decimal.Decimal `json:"reported"`
	Difference decimal.Decimal `json:"difference"`
	Session    CashSession     `json:"session"`
}

type CashMovementRequest struct {
	Type   CashMovementType `json:"type" validate:"required"`
	Amount decimal.Decimal  `json:"amount"`
	Reason string           `json:"reason" validate:"required"`
}

type CashSummary struct {
	SessionID      string          `json:"session_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CashSales      decimal.Decimal `json:"cash_sales"`
	Inflows        decimal.Decimal `json:"inflows"`
	Outflows       decimal.Decimal `json:"outflows"`
	Expected       decimal.Decimal `json:"expected"`
}

type CustomerCreateRequest struct {
	Name        string          `json:"name" validate:"required"`
	HasCredit   bool            `json:"has_credit"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreditDays  int             `json:"credit_days" validate:"gte=0"`
}

type CustomerPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method" validate:"required"`
	Reference string          `json:"reference,omitempty"`
}

type CustomerPaymentResponse struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	PaymentID  string          `json:"payment_id"`
}

type VariantCreateRequest struct {
	SKU     string          `json:"sku" validate:"required"`
	Name    string          `json:"name" validate:"required"`
	Price   decimal.Decimal `json:"price"`
	Cost    decimal.Decimal `json:"cost"`
	Default bool            `json:"default"`
}

type ProductCreateRequest struct {
	Name     string                 `json:"name" validate:"required"`
	Variants []VariantCreateRequest `json:"variants" validate:"required,min=1,dive"`
}

type ProductCreateResponse struct {
	Product  Product   `json:"product"`
	Variants []Variant `json:"variants"`
}

type PriceTierInput struct {
	Name        string          `json:"name"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type PriceTiersRequest struct {
	Tiers []PriceTierInput `json:"tiers" validate:"dive"`
}

type PriceQuote struct {
	SKU       string          `json:"sku"`
	VariantID string          `json:"variant_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}
