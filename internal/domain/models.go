package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	DefaultVariantID string    `json:"default_variant_id,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

type Variant struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Active    bool            `json:"active"`
}

type PriceTier struct {
	VariantID   string          `json:"variant_id"`
	Name        string          `json:"name"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CatalogEntry is the catalog view the sale flow needs for one SKU.
type CatalogEntry struct {
	Variant Variant     `json:"variant"`
	Tiers   []PriceTier `json:"tiers"`
}

type StockOnHand struct {
	BranchID  string          `json:"branch_id"`
	VariantID string          `json:"variant_id"`
	Qty       decimal.Decimal `json:"qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type InventoryMovement struct {
	ID        string          `json:"id"`
	BranchID  string          `json:"branch_id"`
	VariantID string          `json:"variant_id"`
	UserID    string          `json:"user_id,omitempty"`
	Type      MovementType    `json:"type"`
	QtyChange decimal.Decimal `json:"qty_change"`
	QtyBefore decimal.Decimal `json:"qty_before"`
	QtyAfter  decimal.Decimal `json:"qty_after"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SalesDocument struct {
	ID               string          `json:"id"`
	Type             DocumentType    `json:"type"`
	Status           DocumentStatus  `json:"status"`
	BranchID         string          `json:"branch_id"`
	SellerID         string          `json:"seller_id"`
	CustomerID       string          `json:"customer_id,omitempty"`
	Series           string          `json:"series"`
	Folio            int64           `json:"folio"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Notes            string          `json:"notes,omitempty"`
	SourceDocumentID string          `json:"source_document_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []SalesLine     `json:"lines"`
	Payments         []Payment       `json:"payments,omitempty"`
}

func (d SalesDocument) FolioLabel() string {
	return FolioLabel(d.Series, d.Folio)
}

func FolioLabel(series string, folio int64) string {
	return fmt.Sprintf("%s-%d", series, folio)
}

type SalesLine struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"document_id"`
	VariantID   string          `json:"variant_id"`
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalLine   decimal.Decimal `json:"total_line"`
}

// Payment is money tendered against a document or a customer account. Refunds
// are stored as negative amounts.
type Payment struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"document_id,omitempty"`
	CashSessionID string          `json:"cash_session_id,omitempty"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	HasCredit      bool            `json:"has_credit"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	CreditDays     int             `json:"credit_days"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CustomerLedgerEntry struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	DocumentID  string          `json:"document_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CashSession struct {
	ID             string            `json:"id"`
	BranchID       string            `json:"branch_id"`
	UserID         string            `json:"user_id"`
	Status         CashSessionStatus `json:"status"`
	OpeningBalance decimal.Decimal   `json:"opening_balance"`
	ClosingBalance *decimal.Decimal  `json:"closing_balance,omitempty"`
	TotalCashSales decimal.Decimal   `json:"total_cash_sales"`
	TotalIn        decimal.Decimal   `json:"total_in"`
	TotalOut       decimal.Decimal   `json:"total_out"`
	ExpectedAmount decimal.Decimal   `json:"expected_amount"`
	Difference     decimal.Decimal   `json:"difference"`
	Notes          string            `json:"notes,omitempty"`
	OpenedAt       time.Time         `json:"opened_at"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
}

type CashMovement struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Type      CashMovementType `json:"type"`
	Amount    decimal.Decimal  `json:"amount"`
	Reason    string           `json:"reason"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
	BranchID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
