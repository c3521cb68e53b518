package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

// CreateReturn books a RETURN document (series R) against an invoice, puts
// the goods back into stock and refunds them at the sold unit price. A
// STORE_CREDIT refund lowers the customer's balance. Any other method pays
// money back as a negative payment, never more than was actually paid on the
// sale net of earlier refunds; the rest is taken off the customer's debt.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	actor := s.actor(ctx)

	method, err := domain.ParsePaymentMethod(string(req.RefundMethod))
	if err != nil {
		return domain.ReturnResult{}, store.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	if strings.TrimSpace(req.SaleID) == "" || reason == "" || len(req.Items) == 0 {
		return domain.ReturnResult{}, store.ErrInvalidTransaction
	}

	sale, err := s.repo.GetSalesDocument(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	if !returnable(sale) {
		return domain.ReturnResult{}, store.ErrInvalidDocumentState
	}
	if method == domain.PaymentStoreCredit && sale.CustomerID == "" {
		return domain.ReturnResult{}, store.ErrMissingCustomerForCredit
	}

	soldBySKU := make(map[string]domain.SalesLine, len(sale.Lines))
	for _, line := range sale.Lines {
		soldBySKU[line.SKU] = line
	}

	order := make([]string, 0, len(req.Items))
	qtyBySKU := make(map[string]decimal.Decimal, len(req.Items))
	for _, item := range req.Items {
		sku := normalizeSKU(item.SKU)
		if _, sold := soldBySKU[sku]; !sold {
			return domain.ReturnResult{}, store.ErrInvalidTransaction
		}
		if !item.Qty.IsPositive() {
			return domain.ReturnResult{}, store.ErrInvalidAmount
		}
		if _, seen := qtyBySKU[sku]; !seen {
			order = append(order, sku)
		}
		qtyBySKU[sku] = qtyBySKU[sku].Add(item.Qty)
	}

	lines := make([]pricedLine, 0, len(order))
	refund := decimal.Zero
	for _, sku := range order {
		sold := soldBySKU[sku]
		qty := qtyBySKU[sku]
		lineTotal := roundMoney(sold.UnitPrice.Mul(qty))
		lines = append(lines, pricedLine{
			VariantID:   sold.VariantID,
			SKU:         sold.SKU,
			Description: sold.Description,
			Qty:         qty,
			UnitPrice:   sold.UnitPrice,
			UnitCost:    sold.UnitCost,
			Total:       lineTotal,
		})
		refund = refund.Add(lineTotal)
	}

	var (
		doc    domain.SalesDocument
		money  decimal.Decimal
		credit decimal.Decimal
	)
	run := func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockSalesDocument(ctx, sale.ID)
			if err != nil {
				return err
			}
			if !returnable(locked) {
				return store.ErrInvalidDocumentState
			}
			returned, err := tx.ReturnedQuantities(ctx, sale.ID)
			if err != nil {
				return err
			}
			for _, line := range lines {
				remaining := soldQuantity(locked, line.VariantID).Sub(returned[line.VariantID])
				if line.Qty.GreaterThan(remaining) {
					return store.ErrInvalidTransaction
				}
			}

			folio, err := s.folios.NextFolio(ctx, tx, locked.BranchID, domain.SeriesReturns)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			doc = domain.SalesDocument{
				ID:               xid.New("return"),
				Type:             domain.DocumentReturn,
				Status:           domain.DocumentCompleted,
				BranchID:         locked.BranchID,
				SellerID:         actor.UserID,
				CustomerID:       locked.CustomerID,
				Series:           domain.SeriesReturns,
				Folio:            folio,
				Subtotal:         refund,
				Tax:              decimal.Zero,
				Total:            refund,
				Notes:            reason,
				SourceDocumentID: locked.ID,
				CreatedAt:        now,
			}
			doc.Lines = buildSalesLines(doc.ID, lines)
			if err := tx.InsertSalesDocument(ctx, doc); err != nil {
				return err
			}

			label := doc.FolioLabel()
			for _, line := range sortedByVariant(lines) {
				if _, err := s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
					BranchID:  doc.BranchID,
					VariantID: line.VariantID,
					UserID:    actor.UserID,
					Type:      domain.MovementReturn,
					QtyChange: line.Qty,
					Reference: label,
					Notes:     reason,
				}); err != nil {
					return err
				}
			}

			refunded, err := tx.RefundedAmount(ctx, locked.ID)
			if err != nil {
				return err
			}
			money, credit = splitRefund(method, refund, paidOn(locked).Sub(refunded))

			if credit.IsPositive() {
				if doc.CustomerID == "" {
					return store.ErrMissingCustomerForCredit
				}
				customer, err := tx.LockCustomer(ctx, doc.CustomerID)
				if err != nil {
					return err
				}
				if err := tx.InsertLedgerEntry(ctx, domain.CustomerLedgerEntry{
					ID:          xid.New("ledger"),
					CustomerID:  customer.ID,
					Amount:      credit.Neg(),
					Description: "RETURN " + label,
					DocumentID:  doc.ID,
					CreatedAt:   now,
				}); err != nil {
					return err
				}
				if err := tx.SetCustomerBalance(ctx, customer.ID, customer.CurrentBalance.Sub(credit)); err != nil {
					return err
				}
			}
			if !money.IsPositive() {
				return nil
			}

			refundPayment := []domain.PaymentInput{{Method: method, Amount: money}}
			sessionID, err := openSessionID(ctx, tx, actor.UserID, refundPayment)
			if err != nil {
				return err
			}
			payment := domain.Payment{
				ID:         xid.New("pay"),
				DocumentID: doc.ID,
				CustomerID: doc.CustomerID,
				Amount:     money.Neg(),
				Method:     method,
				Reference:  "refund " + locked.FolioLabel(),
				CreatedBy:  actor.UserID,
				CreatedAt:  now,
			}
			if method == domain.PaymentCash {
				payment.CashSessionID = sessionID
			}
			return tx.InsertPayment(ctx, payment)
		})
	}

	// Any return against a customer's sale may touch the account balance.
	if sale.CustomerID != "" {
		err = s.withLock(ctx, customerLockKey(sale.CustomerID), func() error {
			return s.withFolioRetry(ctx, run)
		})
	} else {
		err = s.withFolioRetry(ctx, run)
	}
	if err != nil {
		return domain.ReturnResult{}, err
	}

	s.logAudit(ctx, doc.BranchID, "return_create", "sales_document", doc.ID,
		fmt.Sprintf("folio=%s,sale=%s,refund=%s,paid_back=%s,credited=%s,method=%s", doc.FolioLabel(), sale.FolioLabel(), refund, money, credit, method))

	return domain.ReturnResult{
		ReturnID: doc.ID,
		Folio:    doc.FolioLabel(),
		Refund:   refund,
		PaidBack: money,
		Credited: credit,
		Method:   method,
	}, nil
}

func returnable(doc *domain.SalesDocument) bool {
	return doc.Type == domain.DocumentInvoice && (doc.Status == domain.DocumentPaid || doc.Status == domain.DocumentPending)
}

// splitRefund divides a refund into money paid back and an amount credited
// to the customer account. available is what the sale still holds in money.
func splitRefund(method domain.PaymentMethod, refund decimal.Decimal, available decimal.Decimal) (money decimal.Decimal, credit decimal.Decimal) {
	if method == domain.PaymentStoreCredit {
		return decimal.Zero, refund
	}
	if available.IsNegative() {
		available = decimal.Zero
	}
	money = decimal.Min(refund, available)
	return money, refund.Sub(money)
}

// paidOn is the money recorded against the document, net of change.
func paidOn(doc *domain.SalesDocument) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range doc.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

func soldQuantity(doc *domain.SalesDocument, variantID string) decimal.Decimal {
	total := decimal.Zero
	for _, line := range doc.Lines {
		if line.VariantID == variantID {
			total = total.Add(line.Quantity)
		}
	}
	return total
}
