package domain

import (
	"fmt"
	"strings"
)

type MovementType string

const (
	MovementPurchaseIn    MovementType = "PURCHASE_IN"
	MovementSaleOut       MovementType = "SALE_OUT"
	MovementAdjustmentIn  MovementType = "ADJUSTMENT_IN"
	MovementAdjustmentOut MovementType = "ADJUSTMENT_OUT"
	MovementTransferIn    MovementType = "TRANSFER_IN"
	MovementTransferOut   MovementType = "TRANSFER_OUT"
	MovementReturn        MovementType = "RETURN"
)

var movementTypes = []MovementType{
	MovementPurchaseIn,
	MovementSaleOut,
	MovementAdjustmentIn,
	MovementAdjustmentOut,
	MovementTransferIn,
	MovementTransferOut,
	MovementReturn,
}

func (t MovementType) Valid() bool {
	for _, known := range movementTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Outgoing reports whether the movement takes units off the shelf. Outgoing
// movements carry a negative quantity and may never drive stock below zero.
func (t MovementType) Outgoing() bool {
	switch t {
	case MovementSaleOut, MovementAdjustmentOut, MovementTransferOut:
		return true
	default:
		return false
	}
}

func ParseMovementType(raw string) (MovementType, error) {
	t := MovementType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown movement type %q", raw)
	}
	return t, nil
}

type DocumentType string

const (
	DocumentQuote   DocumentType = "QUOTE"
	DocumentOrder   DocumentType = "ORDER"
	DocumentInvoice DocumentType = "INVOICE"
	DocumentReturn  DocumentType = "RETURN"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentQuote, DocumentOrder, DocumentInvoice, DocumentReturn:
		return true
	default:
		return false
	}
}

func ParseDocumentType(raw string) (DocumentType, error) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown document type %q", raw)
	}
	return t, nil
}

type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "DRAFT"
	DocumentPending   DocumentStatus = "PENDING"
	DocumentPaid      DocumentStatus = "PAID"
	DocumentCancelled DocumentStatus = "CANCELLED"
	DocumentCompleted DocumentStatus = "COMPLETED"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentDraft, DocumentPending, DocumentPaid, DocumentCancelled, DocumentCompleted:
		return true
	default:
		return false
	}
}

func (s DocumentStatus) Terminal() bool {
	return s == DocumentPaid || s == DocumentCompleted || s == DocumentCancelled
}

func ParseDocumentStatus(raw string) (DocumentStatus, error) {
	s := DocumentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown document status %q", raw)
	}
	return s, nil
}

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "CASH"
	PaymentCard        PaymentMethod = "CARD"
	PaymentTransfer    PaymentMethod = "TRANSFER"
	PaymentStoreCredit PaymentMethod = "STORE_CREDIT"
	PaymentOther       PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentStoreCredit, PaymentOther:
		return true
	default:
		return false
	}
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment method %q", raw)
	}
	return m, nil
}

type CashSessionStatus string

const (
	CashSessionOpen   CashSessionStatus = "OPEN"
	CashSessionClosed CashSessionStatus = "CLOSED"
)

func (s CashSessionStatus) Valid() bool {
	return s == CashSessionOpen || s == CashSessionClosed
}

type CashMovementType string

const (
	CashIn  CashMovementType = "IN"
	CashOut CashMovementType = "OUT"
)

func (t CashMovementType) Valid() bool {
	return t == CashIn || t == CashOut
}

func ParseCashMovementType(raw string) (CashMovementType, error) {
	t := CashMovementType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown cash movement type %q", raw)
	}
	return t, nil
}

// Document series. Each (branch, series) pair owns an independent folio sequence.
const (
	SeriesSales   = "A"
	SeriesQuotes  = "Q"
	SeriesReturns = "R"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
