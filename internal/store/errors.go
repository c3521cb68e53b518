package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidTransaction       = errors.New("invalid transaction")
	ErrCreditLimitExceeded      = errors.New("credit limit exceeded")
	ErrMissingCustomerForCredit = errors.New("credit sale requires a customer with credit enabled")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrSessionAlreadyOpen       = errors.New("cash session already open")
	ErrNoOpenSession            = errors.New("no open cash session")
	ErrConcurrencyConflict      = errors.New("concurrency conflict")
	ErrCustomerHasBalance       = errors.New("customer has an outstanding balance")
	ErrInvalidDocumentState     = errors.New("invalid document state")
)

// ErrFolioConflict is raised when a folio collides with an already issued
// document. It is the only conflict the sale flow retries.
var ErrFolioConflict = fmt.Errorf("folio already issued: %w", ErrConcurrencyConflict)

// Tender errors keep the status of the sentinel they wrap, so callers match
// either the specific cause or the broad class.
var (
	// ErrStoreCreditTender rejects STORE_CREDIT offered as a sale payment;
	// credit is granted by leaving the sale underpaid.
	ErrStoreCreditTender = fmt.Errorf("store credit is not a tender: %w", ErrInvalidTransaction)
	// ErrChangeExceedsCash rejects an overpayment whose change is larger
	// than the cash tendered.
	ErrChangeExceedsCash = fmt.Errorf("change exceeds cash tendered: %w", ErrInvalidAmount)
)

type StockError struct {
	SKU       string
	VariantID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *StockError) Error() string {
	key := e.SKU
	if key == "" {
		key = e.VariantID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s", key, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

type CreditError struct {
	CustomerID string
	Balance    decimal.Decimal
	Requested  decimal.Decimal
	Limit      decimal.Decimal
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("credit limit exceeded for customer %s: balance %s + %s > limit %s",
		e.CustomerID, e.Balance, e.Requested, e.Limit)
}

func (e *CreditError) Unwrap() error {
	return ErrCreditLimitExceeded
}
