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

// CreateQuote stores priced lines as a DRAFT quote in series Q. Quotes never
// touch stock, payments or credit.
func (s *Service) CreateQuote(ctx context.Context, req domain.QuoteRequest) (domain.SalesDocument, error) {
	actor := s.actor(ctx)
	customerID := strings.TrimSpace(req.CustomerID)

	lines, total, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.SalesDocument{}, err
	}
	if customerID != "" {
		if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
			return domain.SalesDocument{}, err
		}
	}

	var doc domain.SalesDocument
	err = s.withFolioRetry(ctx, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			folio, err := s.folios.NextFolio(ctx, tx, actor.BranchID, domain.SeriesQuotes)
			if err != nil {
				return err
			}
			doc = domain.SalesDocument{
				ID:         xid.New("quote"),
				Type:       domain.DocumentQuote,
				Status:     domain.DocumentDraft,
				BranchID:   actor.BranchID,
				SellerID:   actor.UserID,
				CustomerID: customerID,
				Series:     domain.SeriesQuotes,
				Folio:      folio,
				Subtotal:   total,
				Tax:        decimal.Zero,
				Total:      total,
				Notes:      strings.TrimSpace(req.Notes),
				CreatedAt:  time.Now().UTC(),
			}
			doc.Lines = buildSalesLines(doc.ID, lines)
			return tx.InsertSalesDocument(ctx, doc)
		})
	})
	if err != nil {
		return domain.SalesDocument{}, err
	}

	s.logAudit(ctx, doc.BranchID, "quote_create", "sales_document", doc.ID, fmt.Sprintf("folio=%s,total=%s", doc.FolioLabel(), doc.Total))
	return doc, nil
}

// ConvertQuote turns a DRAFT quote into an invoice at the quoted prices. Stock
// and credit are checked again and the document gets a new folio in series A.
func (s *Service) ConvertQuote(ctx context.Context, quoteID string, req domain.QuoteConvertRequest) (domain.SaleResult, error) {
	actor := s.actor(ctx)

	quote, err := s.repo.GetSalesDocument(ctx, quoteID)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if quote.Type != domain.DocumentQuote || quote.Status != domain.DocumentDraft {
		return domain.SaleResult{}, store.ErrInvalidDocumentState
	}

	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.SaleResult{}, err
	}
	settled, err := settle(quote.Total, payments)
	if err != nil {
		return domain.SaleResult{}, err
	}
	lines := linesFromDocument(*quote)
	if err := s.precheckSale(ctx, quote.BranchID, lines, quote.CustomerID, settled); err != nil {
		return domain.SaleResult{}, err
	}

	var doc domain.SalesDocument
	run := func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockSalesDocument(ctx, quoteID)
			if err != nil {
				return err
			}
			if locked.Type != domain.DocumentQuote || locked.Status != domain.DocumentDraft {
				return store.ErrInvalidDocumentState
			}
			quoteLabel := locked.FolioLabel()
			doc = *locked
			doc.Type = domain.DocumentInvoice
			doc.Payments = nil
			if doc.Notes == "" {
				doc.Notes = "from quote " + quoteLabel
			} else {
				doc.Notes = doc.Notes + " (from quote " + quoteLabel + ")"
			}
			return s.bookSale(ctx, tx, &doc, false, lines, settled, actor, time.Now().UTC())
		})
	}

	if settled.CreditDebt.IsPositive() {
		err = s.withLock(ctx, customerLockKey(quote.CustomerID), func() error {
			return s.withFolioRetry(ctx, run)
		})
	} else {
		err = s.withFolioRetry(ctx, run)
	}
	if err != nil {
		return domain.SaleResult{}, err
	}

	s.logAudit(ctx, doc.BranchID, "quote_convert", "sales_document", doc.ID,
		fmt.Sprintf("folio=%s,total=%s,status=%s", doc.FolioLabel(), doc.Total, doc.Status))
	return saleResult(doc, settled), nil
}

func (s *Service) CancelQuote(ctx context.Context, quoteID string) (domain.SalesDocument, error) {
	var doc domain.SalesDocument
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockSalesDocument(ctx, quoteID)
		if err != nil {
			return err
		}
		if locked.Type != domain.DocumentQuote || locked.Status != domain.DocumentDraft {
			return store.ErrInvalidDocumentState
		}
		doc = *locked
		doc.Status = domain.DocumentCancelled
		return tx.UpdateSalesDocument(ctx, doc)
	})
	if err != nil {
		return domain.SalesDocument{}, err
	}

	s.logAudit(ctx, doc.BranchID, "quote_cancel", "sales_document", doc.ID, doc.FolioLabel())
	return doc, nil
}
