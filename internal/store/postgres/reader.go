package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same queries serve
// plain reads and reads inside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q querier
}

func (r reader) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var (
		product   domain.Product
		defaultID sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, default_variant_id, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &defaultID, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.DefaultVariantID = defaultID.String
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (r reader) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	return r.scanVariant(r.q.QueryRowContext(ctx, `
		SELECT id, product_id, sku, name, price, cost, active
		FROM variants
		WHERE id = $1
	`, id))
}

func (r reader) GetVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	return r.scanVariant(r.q.QueryRowContext(ctx, `
		SELECT id, product_id, sku, name, price, cost, active
		FROM variants
		WHERE sku = $1
	`, sku))
}

func (r reader) scanVariant(row *sql.Row) (*domain.Variant, error) {
	var v domain.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.Price, &v.Cost, &v.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r reader) ListPriceTiers(ctx context.Context, variantID string) ([]domain.PriceTier, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT variant_id, name, min_quantity, unit_price
		FROM price_tiers
		WHERE variant_id = $1
		ORDER BY min_quantity ASC
	`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make([]domain.PriceTier, 0, 4)
	for rows.Next() {
		var tier domain.PriceTier
		if err := rows.Scan(&tier.VariantID, &tier.Name, &tier.MinQuantity, &tier.UnitPrice); err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (r reader) GetOnHand(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.q.QueryRowContext(ctx, `
		SELECT qty
		FROM stock_on_hand
		WHERE branch_id = $1 AND variant_id = $2
	`, branchID, variantID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return qty, err
}

func (r reader) ListMovements(ctx context.Context, branchID string, variantID string, limit int, offset int) ([]domain.InventoryMovement, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, branch_id, variant_id, COALESCE(user_id, ''), type, qty_change, qty_before, qty_after, reference, notes, created_at
		FROM inventory_movements
		WHERE branch_id = $1 AND variant_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, branchID, variantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.BranchID, &m.VariantID, &m.UserID, &m.Type, &m.QtyChange, &m.QtyBefore, &m.QtyAfter, &m.Reference, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r reader) ListStockKeys(ctx context.Context, branchID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT variant_id FROM stock_on_hand WHERE branch_id = $1
		UNION
		SELECT variant_id FROM inventory_movements WHERE branch_id = $1
		ORDER BY 1
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, 64)
	for rows.Next() {
		var variantID string
		if err := rows.Scan(&variantID); err != nil {
			return nil, err
		}
		keys = append(keys, variantID)
	}
	return keys, rows.Err()
}

func (r reader) GetSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error) {
	return r.loadSalesDocument(ctx, id, false)
}

func (r reader) loadSalesDocument(ctx context.Context, id string, forUpdate bool) (*domain.SalesDocument, error) {
	query := `
		SELECT id, type, status, branch_id, seller_id, COALESCE(customer_id, ''), series, folio,
			subtotal, tax, total, notes, COALESCE(source_document_id, ''), created_at
		FROM sales_documents
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var doc domain.SalesDocument
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Type, &doc.Status, &doc.BranchID, &doc.SellerID, &doc.CustomerID, &doc.Series, &doc.Folio,
		&doc.Subtotal, &doc.Tax, &doc.Total, &doc.Notes, &doc.SourceDocumentID, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc.CreatedAt = doc.CreatedAt.UTC()

	lineRows, err := r.q.QueryContext(ctx, `
		SELECT id, document_id, variant_id, sku, description, quantity, unit_price, unit_cost, total_line
		FROM sales_lines
		WHERE document_id = $1
		ORDER BY line_no ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	doc.Lines = make([]domain.SalesLine, 0, 8)
	for lineRows.Next() {
		var line domain.SalesLine
		if err := lineRows.Scan(&line.ID, &line.DocumentID, &line.VariantID, &line.SKU, &line.Description, &line.Quantity, &line.UnitPrice, &line.UnitCost, &line.TotalLine); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	payRows, err := r.q.QueryContext(ctx, `
		SELECT id, COALESCE(document_id, ''), COALESCE(cash_session_id, ''), COALESCE(customer_id, ''),
			amount, method, reference, created_by, created_at
		FROM payments
		WHERE document_id = $1
		ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer payRows.Close()

	for payRows.Next() {
		var p domain.Payment
		if err := payRows.Scan(&p.ID, &p.DocumentID, &p.CashSessionID, &p.CustomerID, &p.Amount, &p.Method, &p.Reference, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		doc.Payments = append(doc.Payments, p)
	}
	return &doc, payRows.Err()
}

func (r reader) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return r.loadCustomer(ctx, id, false)
}

func (r reader) loadCustomer(ctx context.Context, id string, forUpdate bool) (*domain.Customer, error) {
	query := `
		SELECT id, name, has_credit, credit_limit, credit_days, current_balance, active, created_at
		FROM customers
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var c domain.Customer
	err := r.q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.HasCredit, &c.CreditLimit, &c.CreditDays, &c.CurrentBalance, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (r reader) ListLedgerEntries(ctx context.Context, customerID string, limit int, offset int) ([]domain.CustomerLedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, customer_id, amount, description, COALESCE(document_id, ''), created_at
		FROM customer_ledger
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CustomerLedgerEntry, 0, limit)
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

const cashSessionColumns = `
	id, branch_id, user_id, status, opening_balance, closing_balance, total_cash_sales,
	total_in, total_out, expected_amount, difference, notes, opened_at, closed_at
`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCashSession(row rowScanner) (*domain.CashSession, error) {
	var (
		s        domain.CashSession
		closing  decimal.NullDecimal
		closedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.BranchID, &s.UserID, &s.Status, &s.OpeningBalance, &closing, &s.TotalCashSales,
		&s.TotalIn, &s.TotalOut, &s.ExpectedAmount, &s.Difference, &s.Notes, &s.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if closing.Valid {
		value := closing.Decimal
		s.ClosingBalance = &value
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		s.ClosedAt = &at
	}
	s.OpenedAt = s.OpenedAt.UTC()
	return &s, nil
}

func (r reader) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return r.loadCashSession(ctx, id, false)
}

func (r reader) loadCashSession(ctx context.Context, id string, forUpdate bool) (*domain.CashSession, error) {
	query := `SELECT ` + cashSessionColumns + ` FROM cash_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	session, err := scanCashSession(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

func (r reader) GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error) {
	session, err := scanCashSession(r.q.QueryRowContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE user_id = $1 AND status = 'OPEN'
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoOpenSession
	}
	return session, err
}

func (r reader) SumCashPayments(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE method = 'CASH' AND created_by = $1 AND created_at >= $2
	`, userID, since).Scan(&total)
	return total, err
}

func (r reader) SumCashMovements(ctx context.Context, sessionID string) (decimal.Decimal, decimal.Decimal, error) {
	var in, out decimal.Decimal
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'IN'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'OUT'), 0)
		FROM cash_movements
		WHERE session_id = $1
	`, sessionID).Scan(&in, &out)
	return in, out, err
}
