package postgres

import (
	"context"
	"time"

	"tiendapos/backend/internal/domain"
)

func (s *Store) ListDebtors(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, has_credit, credit_limit, credit_days, current_balance, active, created_at
		FROM customers
		WHERE current_balance > 0
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	debtors := make([]domain.Customer, 0, 16)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.HasCredit, &c.CreditLimit, &c.CreditDays, &c.CurrentBalance, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		debtors = append(debtors, c)
	}
	return debtors, rows.Err()
}

func (s *Store) ListCustomerLedger(ctx context.Context, customerID string) ([]domain.CustomerLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, amount, description, COALESCE(document_id, ''), created_at
		FROM customer_ledger
		WHERE customer_id = $1
		ORDER BY created_at ASC, id ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CustomerLedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.CustomerLedgerEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Amount, &e.Description, &e.DocumentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListCashDiscrepancies(ctx context.Context, branchID string, limit int) ([]domain.CashSession, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE status = 'CLOSED' AND difference <> 0
			AND ($1 = '' OR branch_id = $1)
		ORDER BY closed_at DESC, id DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, limit)
	for rows.Next() {
		session, err := scanCashSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (s *Store) ListSalesDocuments(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.SalesDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, branch_id, seller_id, COALESCE(customer_id, ''), series, folio,
			subtotal, tax, total, notes, COALESCE(source_document_id, ''), created_at
		FROM sales_documents
		WHERE branch_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.SalesDocument, 0, 64)
	index := make(map[string]int)
	for rows.Next() {
		var doc domain.SalesDocument
		if err := rows.Scan(
			&doc.ID, &doc.Type, &doc.Status, &doc.BranchID, &doc.SellerID, &doc.CustomerID, &doc.Series, &doc.Folio,
			&doc.Subtotal, &doc.Tax, &doc.Total, &doc.Notes, &doc.SourceDocumentID, &doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		index[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.variant_id, l.sku, l.description, l.quantity, l.unit_price, l.unit_cost, l.total_line
		FROM sales_lines l
		JOIN sales_documents d ON d.id = l.document_id
		WHERE d.branch_id = $1 AND d.created_at >= $2 AND d.created_at < $3
		ORDER BY l.document_id ASC, l.line_no ASC
	`, branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line domain.SalesLine
		if err := lineRows.Scan(&line.ID, &line.DocumentID, &line.VariantID, &line.SKU, &line.Description, &line.Quantity, &line.UnitPrice, &line.UnitCost, &line.TotalLine); err != nil {
			return nil, err
		}
		// A document inserted between the two reads has no header here.
		if i, ok := index[line.DocumentID]; ok {
			docs[i].Lines = append(docs[i].Lines, line)
		}
	}
	return docs, lineRows.Err()
}

func (s *Store) ListDocumentPayments(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, COALESCE(p.document_id, ''), COALESCE(p.cash_session_id, ''), COALESCE(p.customer_id, ''),
			p.amount, p.method, p.reference, p.created_by, p.created_at
		FROM payments p
		JOIN sales_documents d ON d.id = p.document_id
		WHERE d.branch_id = $1 AND p.created_at >= $2 AND p.created_at < $3
		ORDER BY p.created_at ASC, p.id ASC
	`, branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.CashSessionID, &p.CustomerID, &p.Amount, &p.Method, &p.Reference, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
