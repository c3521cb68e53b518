package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

type pgTx struct {
	reader
	tx *sql.Tx
}

// LockStock locks the on-hand row, creating a zero row first so that the
// first movement of a new variant in a branch is serialized like any other.
func (t *pgTx) LockStock(ctx context.Context, branchID string, variantID string) (domain.StockOnHand, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_on_hand (branch_id, variant_id, qty, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (branch_id, variant_id) DO NOTHING
	`, branchID, variantID); err != nil {
		if isForeignKeyViolation(err) {
			return domain.StockOnHand{}, store.ErrNotFound
		}
		return domain.StockOnHand{}, translateError(err)
	}

	row := domain.StockOnHand{BranchID: branchID, VariantID: variantID}
	err := t.tx.QueryRowContext(ctx, `
		SELECT qty, updated_at
		FROM stock_on_hand
		WHERE branch_id = $1 AND variant_id = $2
		FOR UPDATE
	`, branchID, variantID).Scan(&row.Qty, &row.UpdatedAt)
	if err != nil {
		return domain.StockOnHand{}, translateError(err)
	}
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

func (t *pgTx) SetStock(ctx context.Context, branchID string, variantID string, qty decimal.Decimal, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_on_hand (branch_id, variant_id, qty, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (branch_id, variant_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at
	`, branchID, variantID, qty, at)
	return translateError(err)
}

func (t *pgTx) InsertMovement(ctx context.Context, m domain.InventoryMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, branch_id, variant_id, user_id, type, qty_change, qty_before, qty_after, reference, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.BranchID, m.VariantID, nullIfEmpty(m.UserID), string(m.Type), m.QtyChange, m.QtyBefore, m.QtyAfter, m.Reference, m.Notes, m.CreatedAt)
	return translateError(err)
}

func (t *pgTx) SumMovements(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty_change), 0)
		FROM inventory_movements
		WHERE branch_id = $1 AND variant_id = $2
	`, branchID, variantID).Scan(&total)
	return total, translateError(err)
}

// NextFolio bumps the per (branch, series) counter. The upsert row lock
// serializes concurrent sales of the same series until commit. A fresh
// counter starts after the highest folio already issued.
func (t *pgTx) NextFolio(ctx context.Context, branchID string, series string) (int64, error) {
	var folio int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO folio_sequences (branch_id, series, last_folio)
		VALUES ($1, $2, COALESCE((SELECT MAX(folio) FROM sales_documents WHERE branch_id = $1 AND series = $2), 0) + 1)
		ON CONFLICT (branch_id, series)
		DO UPDATE SET last_folio = folio_sequences.last_folio + 1
		RETURNING last_folio
	`, branchID, series).Scan(&folio)
	return folio, translateError(err)
}

func (t *pgTx) InsertSalesDocument(ctx context.Context, doc domain.SalesDocument) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales_documents (
			id, type, status, branch_id, seller_id, customer_id, series, folio,
			subtotal, tax, total, notes, source_document_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, doc.ID, string(doc.Type), string(doc.Status), doc.BranchID, doc.SellerID, nullIfEmpty(doc.CustomerID), doc.Series, doc.Folio,
		doc.Subtotal, doc.Tax, doc.Total, doc.Notes, nullIfEmpty(doc.SourceDocumentID), doc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrFolioConflict
		}
		return translateError(err)
	}

	for i, line := range doc.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sales_lines (
				id, document_id, line_no, variant_id, sku, description, quantity, unit_price, unit_cost, total_line
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, line.ID, doc.ID, i+1, line.VariantID, line.SKU, line.Description, line.Quantity, line.UnitPrice, line.UnitCost, line.TotalLine); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (t *pgTx) LockSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error) {
	doc, err := t.loadSalesDocument(ctx, id, true)
	if err != nil {
		return nil, translateError(err)
	}
	return doc, nil
}

func (t *pgTx) UpdateSalesDocument(ctx context.Context, doc domain.SalesDocument) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales_documents
		SET type = $2, status = $3, customer_id = $4, series = $5, folio = $6,
			subtotal = $7, tax = $8, total = $9, notes = $10
		WHERE id = $1
	`, doc.ID, string(doc.Type), string(doc.Status), nullIfEmpty(doc.CustomerID), doc.Series, doc.Folio,
		doc.Subtotal, doc.Tax, doc.Total, doc.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrFolioConflict
		}
		return translateError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) ReturnedQuantities(ctx context.Context, saleID string) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT l.variant_id, COALESCE(SUM(l.quantity), 0)
		FROM sales_lines l
		JOIN sales_documents d ON d.id = l.document_id
		WHERE d.source_document_id = $1 AND d.type = 'RETURN' AND d.status <> 'CANCELLED'
		GROUP BY l.variant_id
	`, saleID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	returned := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			variantID string
			qty       decimal.Decimal
		)
		if err := rows.Scan(&variantID, &qty); err != nil {
			return nil, err
		}
		returned[variantID] = qty
	}
	return returned, rows.Err()
}

func (t *pgTx) RefundedAmount(ctx context.Context, saleID string) (decimal.Decimal, error) {
	var refunded decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(-SUM(p.amount), 0)
		FROM payments p
		JOIN sales_documents d ON d.id = p.document_id
		WHERE d.source_document_id = $1 AND d.type = 'RETURN' AND d.status <> 'CANCELLED'
	`, saleID).Scan(&refunded)
	return refunded, translateError(err)
}

// TotalOnHand reads every branch row for the variant; callers hold the
// receiving branch lock, other branches may still move concurrently.
func (t *pgTx) TotalOnHand(ctx context.Context, variantID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0)
		FROM stock_on_hand
		WHERE variant_id = $1
	`, variantID).Scan(&total)
	return total, translateError(err)
}

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, document_id, cash_session_id, customer_id, amount, method, reference, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, nullIfEmpty(p.DocumentID), nullIfEmpty(p.CashSessionID), nullIfEmpty(p.CustomerID), p.Amount, string(p.Method), p.Reference, p.CreatedBy, p.CreatedAt)
	return translateError(err)
}

func (t *pgTx) UpdateVariantCost(ctx context.Context, variantID string, cost decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE variants SET cost = $2 WHERE id = $1`, variantID, cost)
	if err != nil {
		return translateError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := t.loadCustomer(ctx, id, true)
	if err != nil {
		return nil, translateError(err)
	}
	return customer, nil
}

func (t *pgTx) SetCustomerBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE customers SET current_balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return translateError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) SetCustomerActive(ctx context.Context, id string, active bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE customers SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return translateError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e domain.CustomerLedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO customer_ledger (id, customer_id, amount, description, document_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.CustomerID, e.Amount, e.Description, nullIfEmpty(e.DocumentID), e.CreatedAt)
	return translateError(err)
}

func (t *pgTx) SumLedger(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM customer_ledger
		WHERE customer_id = $1
	`, customerID).Scan(&total)
	return total, translateError(err)
}

func (t *pgTx) InsertCashSession(ctx context.Context, s domain.CashSession) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_sessions (
			id, branch_id, user_id, status, opening_balance, closing_balance, total_cash_sales,
			total_in, total_out, expected_amount, difference, notes, opened_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, s.ID, s.BranchID, s.UserID, string(s.Status), s.OpeningBalance, nullDecimal(s.ClosingBalance), s.TotalCashSales,
		s.TotalIn, s.TotalOut, s.ExpectedAmount, s.Difference, s.Notes, s.OpenedAt, nullTime(s.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrSessionAlreadyOpen
		}
		return translateError(err)
	}
	return nil
}

func (t *pgTx) LockCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	session, err := t.loadCashSession(ctx, id, true)
	if err != nil {
		return nil, translateError(err)
	}
	return session, nil
}

func (t *pgTx) UpdateCashSession(ctx context.Context, s domain.CashSession) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = $2, closing_balance = $3, total_cash_sales = $4, total_in = $5, total_out = $6,
			expected_amount = $7, difference = $8, notes = $9, closed_at = $10
		WHERE id = $1
	`, s.ID, string(s.Status), nullDecimal(s.ClosingBalance), s.TotalCashSales, s.TotalIn, s.TotalOut,
		s.ExpectedAmount, s.Difference, s.Notes, nullTime(s.ClosedAt))
	if err != nil {
		return translateError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m domain.CashMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID, m.SessionID, string(m.Type), m.Amount, m.Reason, m.CreatedBy, m.CreatedAt)
	return translateError(err)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
