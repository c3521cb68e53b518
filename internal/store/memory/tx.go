package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

// memTx writes straight into the shared state while the caller holds the
// store's write lock. Every write pushes its inverse onto undo.
type memTx struct {
	*state
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) LockStock(_ context.Context, branchID string, variantID string) (domain.StockOnHand, error) {
	if _, ok := tx.variants[variantID]; !ok {
		return domain.StockOnHand{}, store.ErrNotFound
	}
	key := stockKey(branchID, variantID)
	row, ok := tx.stock[key]
	if !ok {
		row = domain.StockOnHand{BranchID: branchID, VariantID: variantID, Qty: decimal.Zero}
		tx.stock[key] = row
		tx.undo = append(tx.undo, func() { delete(tx.stock, key) })
	}
	return row, nil
}

func (tx *memTx) SetStock(_ context.Context, branchID string, variantID string, qty decimal.Decimal, at time.Time) error {
	key := stockKey(branchID, variantID)
	prev, existed := tx.stock[key]
	tx.stock[key] = domain.StockOnHand{BranchID: branchID, VariantID: variantID, Qty: qty, UpdatedAt: at}
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.stock[key] = prev
			return
		}
		delete(tx.stock, key)
	})
	return nil
}

func (tx *memTx) InsertMovement(_ context.Context, movement domain.InventoryMovement) error {
	n := len(tx.movements)
	tx.movements = append(tx.movements, movement)
	tx.undo = append(tx.undo, func() { tx.movements = tx.movements[:n] })
	return nil
}

func (tx *memTx) SumMovements(_ context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, m := range tx.movements {
		if m.BranchID == branchID && m.VariantID == variantID {
			total = total.Add(m.QtyChange)
		}
	}
	return total, nil
}

func (tx *memTx) NextFolio(_ context.Context, branchID string, series string) (int64, error) {
	key := folioKey(branchID, series)
	prev, existed := tx.folios[key]
	last := prev
	if !existed {
		for _, doc := range tx.documents {
			if doc.BranchID == branchID && doc.Series == series && doc.Folio > last {
				last = doc.Folio
			}
		}
	}
	next := last + 1
	tx.folios[key] = next
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.folios[key] = prev
			return
		}
		delete(tx.folios, key)
	})
	return next, nil
}

func (tx *memTx) InsertSalesDocument(_ context.Context, doc domain.SalesDocument) error {
	if _, exists := tx.documents[doc.ID]; exists {
		return store.ErrInvalidTransaction
	}
	if err := tx.claimFolio(doc); err != nil {
		return err
	}
	doc.Payments = nil
	tx.documents[doc.ID] = cloneDocument(doc)
	id := doc.ID
	tx.undo = append(tx.undo, func() { delete(tx.documents, id) })
	return nil
}

func (tx *memTx) LockSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error) {
	return tx.GetSalesDocument(ctx, id)
}

func (tx *memTx) UpdateSalesDocument(_ context.Context, doc domain.SalesDocument) error {
	prev, ok := tx.documents[doc.ID]
	if !ok {
		return store.ErrNotFound
	}
	if prev.Series != doc.Series || prev.Folio != doc.Folio {
		if err := tx.claimFolio(doc); err != nil {
			return err
		}
		if prev.Folio > 0 {
			oldKey := issuedKey(prev.BranchID, prev.Series, prev.Folio)
			delete(tx.issuedFolios, oldKey)
			tx.undo = append(tx.undo, func() { tx.issuedFolios[oldKey] = prev.ID })
		}
	}

	next := prev
	next.Type = doc.Type
	next.Status = doc.Status
	next.CustomerID = doc.CustomerID
	next.Series = doc.Series
	next.Folio = doc.Folio
	next.Subtotal = doc.Subtotal
	next.Tax = doc.Tax
	next.Total = doc.Total
	next.Notes = doc.Notes
	tx.documents[doc.ID] = next
	tx.undo = append(tx.undo, func() { tx.documents[prev.ID] = prev })
	return nil
}

// claimFolio enforces (branch, series, folio) uniqueness the way the
// database unique index does.
func (tx *memTx) claimFolio(doc domain.SalesDocument) error {
	if doc.Folio <= 0 {
		return nil
	}
	key := issuedKey(doc.BranchID, doc.Series, doc.Folio)
	if owner, taken := tx.issuedFolios[key]; taken && owner != doc.ID {
		return store.ErrFolioConflict
	}
	tx.issuedFolios[key] = doc.ID
	tx.undo = append(tx.undo, func() { delete(tx.issuedFolios, key) })
	return nil
}

func (tx *memTx) ReturnedQuantities(_ context.Context, saleID string) (map[string]decimal.Decimal, error) {
	returned := make(map[string]decimal.Decimal)
	for _, doc := range tx.documents {
		if doc.Type != domain.DocumentReturn || doc.SourceDocumentID != saleID || doc.Status == domain.DocumentCancelled {
			continue
		}
		for _, line := range doc.Lines {
			returned[line.VariantID] = returned[line.VariantID].Add(line.Quantity)
		}
	}
	return returned, nil
}

func (tx *memTx) RefundedAmount(_ context.Context, saleID string) (decimal.Decimal, error) {
	refunded := decimal.Zero
	for _, p := range tx.payments {
		doc, ok := tx.documents[p.DocumentID]
		if !ok || doc.Type != domain.DocumentReturn || doc.SourceDocumentID != saleID || doc.Status == domain.DocumentCancelled {
			continue
		}
		refunded = refunded.Sub(p.Amount)
	}
	return refunded, nil
}

func (tx *memTx) TotalOnHand(_ context.Context, variantID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, row := range tx.stock {
		if row.VariantID == variantID {
			total = total.Add(row.Qty)
		}
	}
	return total, nil
}

func (tx *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	n := len(tx.payments)
	tx.payments = append(tx.payments, payment)
	tx.undo = append(tx.undo, func() { tx.payments = tx.payments[:n] })
	return nil
}

func (tx *memTx) UpdateVariantCost(_ context.Context, variantID string, cost decimal.Decimal) error {
	prev, ok := tx.variants[variantID]
	if !ok {
		return store.ErrNotFound
	}
	next := prev
	next.Cost = cost
	tx.variants[variantID] = next
	tx.undo = append(tx.undo, func() { tx.variants[variantID] = prev })
	return nil
}

func (tx *memTx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return tx.GetCustomer(ctx, id)
}

func (tx *memTx) SetCustomerBalance(_ context.Context, id string, balance decimal.Decimal) error {
	prev, ok := tx.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	next := prev
	next.CurrentBalance = balance
	tx.customers[id] = next
	tx.undo = append(tx.undo, func() { tx.customers[id] = prev })
	return nil
}

func (tx *memTx) SetCustomerActive(_ context.Context, id string, active bool) error {
	prev, ok := tx.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	next := prev
	next.Active = active
	tx.customers[id] = next
	tx.undo = append(tx.undo, func() { tx.customers[id] = prev })
	return nil
}

func (tx *memTx) InsertLedgerEntry(_ context.Context, entry domain.CustomerLedgerEntry) error {
	n := len(tx.ledger)
	tx.ledger = append(tx.ledger, entry)
	tx.undo = append(tx.undo, func() { tx.ledger = tx.ledger[:n] })
	return nil
}

func (tx *memTx) SumLedger(_ context.Context, customerID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, entry := range tx.ledger {
		if entry.CustomerID == customerID {
			total = total.Add(entry.Amount)
		}
	}
	return total, nil
}

func (tx *memTx) InsertCashSession(_ context.Context, session domain.CashSession) error {
	if _, open := tx.openSessionFor[session.UserID]; open && session.Status == domain.CashSessionOpen {
		return store.ErrSessionAlreadyOpen
	}
	tx.sessions[session.ID] = session
	tx.undo = append(tx.undo, func() { delete(tx.sessions, session.ID) })
	if session.Status == domain.CashSessionOpen {
		tx.openSessionFor[session.UserID] = session.ID
		tx.undo = append(tx.undo, func() { delete(tx.openSessionFor, session.UserID) })
	}
	return nil
}

func (tx *memTx) LockCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return tx.GetCashSession(ctx, id)
}

func (tx *memTx) UpdateCashSession(_ context.Context, session domain.CashSession) error {
	prev, ok := tx.sessions[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	tx.sessions[session.ID] = session
	tx.undo = append(tx.undo, func() { tx.sessions[prev.ID] = prev })
	if prev.Status == domain.CashSessionOpen && session.Status != domain.CashSessionOpen {
		if owner, held := tx.openSessionFor[prev.UserID]; held && owner == prev.ID {
			delete(tx.openSessionFor, prev.UserID)
			tx.undo = append(tx.undo, func() { tx.openSessionFor[prev.UserID] = prev.ID })
		}
	}
	return nil
}

func (tx *memTx) InsertCashMovement(_ context.Context, movement domain.CashMovement) error {
	n := len(tx.cashMovements)
	tx.cashMovements = append(tx.cashMovements, movement)
	tx.undo = append(tx.undo, func() { tx.cashMovements = tx.cashMovements[:n] })
	return nil
}

// Reader methods below run without locking; callers hold Store.mu.

func (st *state) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (st *state) GetVariant(_ context.Context, id string) (*domain.Variant, error) {
	variant, ok := st.variants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &variant, nil
}

func (st *state) GetVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	id, ok := st.variantBySKU[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.GetVariant(ctx, id)
}

func (st *state) ListPriceTiers(_ context.Context, variantID string) ([]domain.PriceTier, error) {
	tiers := st.tiers[variantID]
	out := make([]domain.PriceTier, len(tiers))
	copy(out, tiers)
	return out, nil
}

func (st *state) GetOnHand(_ context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	row, ok := st.stock[stockKey(branchID, variantID)]
	if !ok {
		return decimal.Zero, nil
	}
	return row.Qty, nil
}

func (st *state) ListMovements(_ context.Context, branchID string, variantID string, limit int, offset int) ([]domain.InventoryMovement, error) {
	result := make([]domain.InventoryMovement, 0, limit)
	skipped := 0
	for i := len(st.movements) - 1; i >= 0 && len(result) < limit; i-- {
		m := st.movements[i]
		if m.BranchID != branchID || m.VariantID != variantID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (st *state) ListStockKeys(_ context.Context, branchID string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, row := range st.stock {
		if row.BranchID == branchID {
			seen[row.VariantID] = struct{}{}
		}
	}
	for _, m := range st.movements {
		if m.BranchID == branchID {
			seen[m.VariantID] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for variantID := range seen {
		keys = append(keys, variantID)
	}
	sort.Strings(keys)
	return keys, nil
}

func (st *state) GetSalesDocument(_ context.Context, id string) (*domain.SalesDocument, error) {
	doc, ok := st.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneDocument(doc)
	for _, p := range st.payments {
		if p.DocumentID == id {
			out.Payments = append(out.Payments, p)
		}
	}
	return &out, nil
}

func (st *state) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	customer, ok := st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (st *state) ListLedgerEntries(_ context.Context, customerID string, limit int, offset int) ([]domain.CustomerLedgerEntry, error) {
	result := make([]domain.CustomerLedgerEntry, 0, limit)
	skipped := 0
	for i := len(st.ledger) - 1; i >= 0 && len(result) < limit; i-- {
		entry := st.ledger[i]
		if entry.CustomerID != customerID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (st *state) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	session, ok := st.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (st *state) GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error) {
	id, ok := st.openSessionFor[userID]
	if !ok {
		return nil, store.ErrNoOpenSession
	}
	return st.GetCashSession(ctx, id)
}

func (st *state) SumCashPayments(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range st.payments {
		if p.Method != domain.PaymentCash || p.CreatedBy != userID || p.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (st *state) SumCashMovements(_ context.Context, sessionID string) (decimal.Decimal, decimal.Decimal, error) {
	in, out := decimal.Zero, decimal.Zero
	for _, m := range st.cashMovements {
		if m.SessionID != sessionID {
			continue
		}
		switch m.Type {
		case domain.CashIn:
			in = in.Add(m.Amount)
		case domain.CashOut:
			out = out.Add(m.Amount)
		}
	}
	return in, out, nil
}
