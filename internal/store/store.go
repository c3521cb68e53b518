package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
)

// Reader holds the queries available both on the repository and inside a
// unit of work.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetVariant(ctx context.Context, id string) (*domain.Variant, error)
	GetVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error)
	ListPriceTiers(ctx context.Context, variantID string) ([]domain.PriceTier, error)
	GetOnHand(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error)
	ListMovements(ctx context.Context, branchID string, variantID string, limit int, offset int) ([]domain.InventoryMovement, error)
	ListStockKeys(ctx context.Context, branchID string) ([]string, error)
	GetSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListLedgerEntries(ctx context.Context, customerID string, limit int, offset int) ([]domain.CustomerLedgerEntry, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error)
	SumCashPayments(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	SumCashMovements(ctx context.Context, sessionID string) (in decimal.Decimal, out decimal.Decimal, err error)
}

// Tx is a unit of work. Lock* methods take the row lock that serializes
// writers on the same key until the unit of work ends.
type Tx interface {
	Reader

	LockStock(ctx context.Context, branchID string, variantID string) (domain.StockOnHand, error)
	SetStock(ctx context.Context, branchID string, variantID string, qty decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) error
	SumMovements(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error)
	// TotalOnHand sums the variant's on-hand quantity across every branch.
	TotalOnHand(ctx context.Context, variantID string) (decimal.Decimal, error)

	NextFolio(ctx context.Context, branchID string, series string) (int64, error)

	InsertSalesDocument(ctx context.Context, doc domain.SalesDocument) error
	LockSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error)
	UpdateSalesDocument(ctx context.Context, doc domain.SalesDocument) error
	ReturnedQuantities(ctx context.Context, saleID string) (map[string]decimal.Decimal, error)
	// RefundedAmount is the money already paid back through returns of the
	// sale, as a positive amount.
	RefundedAmount(ctx context.Context, saleID string) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, payment domain.Payment) error

	UpdateVariantCost(ctx context.Context, variantID string, cost decimal.Decimal) error

	LockCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SetCustomerBalance(ctx context.Context, id string, balance decimal.Decimal) error
	SetCustomerActive(ctx context.Context, id string, active bool) error
	InsertLedgerEntry(ctx context.Context, entry domain.CustomerLedgerEntry) error
	SumLedger(ctx context.Context, customerID string) (decimal.Decimal, error)

	InsertCashSession(ctx context.Context, session domain.CashSession) error
	LockCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	UpdateCashSession(ctx context.Context, session domain.CashSession) error
	InsertCashMovement(ctx context.Context, movement domain.CashMovement) error
}

// Reports holds the read-only queries behind the admin reports.
type Reports interface {
	// ListDebtors returns customers whose balance is above zero.
	ListDebtors(ctx context.Context) ([]domain.Customer, error)
	// ListCustomerLedger returns every ledger entry of the customer, oldest first.
	ListCustomerLedger(ctx context.Context, customerID string) ([]domain.CustomerLedgerEntry, error)
	// ListCashDiscrepancies returns closed sessions whose count differed from
	// the expected amount, most recently closed first.
	ListCashDiscrepancies(ctx context.Context, branchID string, limit int) ([]domain.CashSession, error)
	// ListSalesDocuments returns documents created in [from, to) with their lines.
	ListSalesDocuments(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.SalesDocument, error)
	// ListDocumentPayments returns payments made in [from, to) against
	// documents of the branch.
	ListDocumentPayments(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.Payment, error)
}

type Repository interface {
	Reader
	Reports

	// WithinTx runs fn as one atomic unit of work. Any error returned by fn
	// discards every write made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateProduct(ctx context.Context, product domain.Product, variants []domain.Variant) error
	ReplacePriceTiers(ctx context.Context, variantID string, tiers []domain.PriceTier) error
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
