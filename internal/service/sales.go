package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

type pricedLine struct {
	VariantID   string
	SKU         string
	Description string
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	Total       decimal.Decimal
}

type settlement struct {
	Total      decimal.Decimal
	Paid       decimal.Decimal
	Change     decimal.Decimal
	CreditDebt decimal.Decimal
	Status     domain.DocumentStatus
	Payments   []domain.PaymentInput
}

// CreateSale prices the cart, checks stock and credit, and books the invoice
// with its folio, payments, SALE_OUT movements and credit entry as one unit of
// work. Branch and seller come from the authenticated actor.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	actor := s.actor(ctx)
	customerID := strings.TrimSpace(req.CustomerID)

	lines, total, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.SaleResult{}, err
	}
	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.SaleResult{}, err
	}
	settled, err := settle(total, payments)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if err := s.precheckSale(ctx, actor.BranchID, lines, customerID, settled); err != nil {
		return domain.SaleResult{}, err
	}

	var doc domain.SalesDocument
	run := func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			now := time.Now().UTC()
			doc = domain.SalesDocument{
				ID:         xid.New("sale"),
				Type:       domain.DocumentInvoice,
				BranchID:   actor.BranchID,
				SellerID:   actor.UserID,
				CustomerID: customerID,
				Subtotal:   total,
				Tax:        decimal.Zero,
				Total:      total,
				Notes:      strings.TrimSpace(req.Notes),
				CreatedAt:  now,
			}
			doc.Lines = buildSalesLines(doc.ID, lines)
			return s.bookSale(ctx, tx, &doc, true, lines, settled, actor, now)
		})
	}

	if settled.CreditDebt.IsPositive() {
		err = s.withLock(ctx, customerLockKey(customerID), func() error {
			return s.withFolioRetry(ctx, run)
		})
	} else {
		err = s.withFolioRetry(ctx, run)
	}
	if err != nil {
		return domain.SaleResult{}, err
	}

	s.logAudit(ctx, doc.BranchID, "sale_create", "sales_document", doc.ID,
		fmt.Sprintf("folio=%s,total=%s,status=%s", doc.FolioLabel(), doc.Total, doc.Status))

	return saleResult(doc, settled), nil
}

// bookSale performs the locked part of a sale inside tx. Locks are taken in
// the order stock rows, folio, customer. insert is false when an existing
// quote is being turned into an invoice.
func (s *Service) bookSale(ctx context.Context, tx store.Tx, doc *domain.SalesDocument, insert bool, lines []pricedLine, settled settlement, actor domain.Actor, now time.Time) error {
	if err := lockStockRows(ctx, tx, doc.BranchID, lines); err != nil {
		return err
	}

	folio, err := s.folios.NextFolio(ctx, tx, doc.BranchID, domain.SeriesSales)
	if err != nil {
		return err
	}
	doc.Series = domain.SeriesSales
	doc.Folio = folio
	doc.Status = settled.Status

	var customer *domain.Customer
	if settled.CreditDebt.IsPositive() {
		customer, err = tx.LockCustomer(ctx, doc.CustomerID)
		if err != nil {
			return err
		}
		if err := checkCredit(customer, settled.CreditDebt); err != nil {
			return err
		}
	}

	if insert {
		err = tx.InsertSalesDocument(ctx, *doc)
	} else {
		err = tx.UpdateSalesDocument(ctx, *doc)
	}
	if err != nil {
		return err
	}

	label := doc.FolioLabel()
	recorded, err := s.insertPayments(ctx, tx, doc, settled, actor, now)
	if err != nil {
		return err
	}
	doc.Payments = recorded

	for _, line := range lines {
		if _, err := s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID:  doc.BranchID,
			VariantID: line.VariantID,
			UserID:    actor.UserID,
			Type:      domain.MovementSaleOut,
			QtyChange: line.Qty.Neg(),
			Reference: label,
		}); err != nil {
			return withSKU(err, line.SKU)
		}
	}

	if customer != nil {
		if err := tx.InsertLedgerEntry(ctx, domain.CustomerLedgerEntry{
			ID:          xid.New("ledger"),
			CustomerID:  customer.ID,
			Amount:      settled.CreditDebt,
			Description: "SALE " + label,
			DocumentID:  doc.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := tx.SetCustomerBalance(ctx, customer.ID, customer.CurrentBalance.Add(settled.CreditDebt)); err != nil {
			return err
		}
	}
	return nil
}

// insertPayments writes the tendered payments net of change. Cash payments
// are linked to the seller's open cash session when there is one.
func (s *Service) insertPayments(ctx context.Context, tx store.Tx, doc *domain.SalesDocument, settled settlement, actor domain.Actor, now time.Time) ([]domain.Payment, error) {
	sessionID, err := openSessionID(ctx, tx, actor.UserID, settled.Payments)
	if err != nil {
		return nil, err
	}

	recorded := make([]domain.Payment, 0, len(settled.Payments))
	for _, in := range settled.Payments {
		if in.Amount.IsZero() {
			continue
		}
		payment := domain.Payment{
			ID:         xid.New("pay"),
			DocumentID: doc.ID,
			CustomerID: doc.CustomerID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			CreatedBy:  actor.UserID,
			CreatedAt:  now,
		}
		if in.Method == domain.PaymentCash {
			payment.CashSessionID = sessionID
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return nil, err
		}
		recorded = append(recorded, payment)
	}
	return recorded, nil
}

func openSessionID(ctx context.Context, r store.Reader, userID string, payments []domain.PaymentInput) (string, error) {
	hasCash := false
	for _, p := range payments {
		if p.Method == domain.PaymentCash {
			hasCash = true
			break
		}
	}
	if !hasCash {
		return "", nil
	}
	session, err := r.GetOpenCashSession(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return "", nil
		}
		return "", err
	}
	return session.ID, nil
}

// priceItems resolves every SKU, merges duplicate SKUs and applies tier
// pricing on the merged quantity.
func (s *Service) priceItems(ctx context.Context, items []domain.SaleItem) ([]pricedLine, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, store.ErrInvalidTransaction
	}

	order := make([]string, 0, len(items))
	qtyBySKU := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		sku := normalizeSKU(item.SKU)
		if sku == "" {
			return nil, decimal.Zero, store.ErrInvalidTransaction
		}
		if !item.Qty.IsPositive() {
			return nil, decimal.Zero, store.ErrInvalidAmount
		}
		if _, seen := qtyBySKU[sku]; !seen {
			order = append(order, sku)
		}
		qtyBySKU[sku] = qtyBySKU[sku].Add(item.Qty)
	}

	lines := make([]pricedLine, 0, len(order))
	total := decimal.Zero
	for _, sku := range order {
		entry, err := s.lookupSKU(ctx, sku)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !entry.Variant.Active {
			return nil, decimal.Zero, store.ErrNotFound
		}
		qty := qtyBySKU[sku]
		price := ResolveUnitPrice(entry.Variant.Price, entry.Tiers, qty)
		lineTotal := roundMoney(price.Mul(qty))
		lines = append(lines, pricedLine{
			VariantID:   entry.Variant.ID,
			SKU:         entry.Variant.SKU,
			Description: entry.Variant.Name,
			Qty:         qty,
			UnitPrice:   price,
			UnitCost:    entry.Variant.Cost,
			Total:       lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return lines, total, nil
}

// precheckSale fails fast on stock and credit before any unit of work is
// opened. The same checks run again under the row locks.
func (s *Service) precheckSale(ctx context.Context, branchID string, lines []pricedLine, customerID string, settled settlement) error {
	for _, line := range lines {
		onHand, err := s.repo.GetOnHand(ctx, branchID, line.VariantID)
		if err != nil {
			return err
		}
		if onHand.LessThan(line.Qty) {
			return &store.StockError{SKU: line.SKU, VariantID: line.VariantID, Requested: line.Qty, Available: onHand}
		}
	}

	if settled.CreditDebt.IsPositive() && customerID == "" {
		return store.ErrMissingCustomerForCredit
	}
	if customerID == "" {
		return nil
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if !customer.Active {
		return store.ErrInvalidTransaction
	}
	if settled.CreditDebt.IsPositive() {
		return checkCredit(customer, settled.CreditDebt)
	}
	return nil
}

func checkCredit(customer *domain.Customer, debt decimal.Decimal) error {
	if !customer.HasCredit || !customer.Active {
		return store.ErrMissingCustomerForCredit
	}
	if customer.CurrentBalance.Add(debt).GreaterThan(customer.CreditLimit) {
		return &store.CreditError{
			CustomerID: customer.ID,
			Balance:    customer.CurrentBalance,
			Requested:  debt,
			Limit:      customer.CreditLimit,
		}
	}
	return nil
}

func normalizePayments(in []domain.PaymentInput) ([]domain.PaymentInput, error) {
	out := make([]domain.PaymentInput, 0, len(in))
	for _, p := range in {
		method, err := domain.ParsePaymentMethod(string(p.Method))
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		if method == domain.PaymentStoreCredit {
			return nil, store.ErrStoreCreditTender
		}
		if p.Amount.IsNegative() {
			return nil, store.ErrInvalidAmount
		}
		if p.Amount.IsZero() {
			continue
		}
		out = append(out, domain.PaymentInput{
			Method:    method,
			Amount:    roundMoney(p.Amount),
			Reference: strings.TrimSpace(p.Reference),
		})
	}
	return out, nil
}

// settle splits the tendered amount into paid, change and credit debt.
// Change is only given back in cash, so it is deducted from the cash
// payments and an overpayment not covered by cash is rejected.
func settle(total decimal.Decimal, payments []domain.PaymentInput) (settlement, error) {
	paid := decimal.Zero
	cash := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
		if p.Method == domain.PaymentCash {
			cash = cash.Add(p.Amount)
		}
	}

	st := settlement{
		Total:      total,
		Paid:       paid,
		Change:     decimal.Zero,
		CreditDebt: decimal.Zero,
	}
	balance := total.Sub(paid)
	if !balance.IsPositive() {
		st.Change = balance.Neg()
		st.Status = domain.DocumentPaid
		if st.Change.GreaterThan(cash) {
			return settlement{}, store.ErrChangeExceedsCash
		}
	} else {
		st.CreditDebt = balance
		st.Status = domain.DocumentPending
	}

	st.Payments = make([]domain.PaymentInput, len(payments))
	copy(st.Payments, payments)
	remaining := st.Change
	for i := len(st.Payments) - 1; i >= 0 && remaining.IsPositive(); i-- {
		if st.Payments[i].Method != domain.PaymentCash {
			continue
		}
		take := decimal.Min(remaining, st.Payments[i].Amount)
		st.Payments[i].Amount = st.Payments[i].Amount.Sub(take)
		remaining = remaining.Sub(take)
	}
	return st, nil
}

func buildSalesLines(documentID string, lines []pricedLine) []domain.SalesLine {
	out := make([]domain.SalesLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.SalesLine{
			ID:          xid.New("line"),
			DocumentID:  documentID,
			VariantID:   line.VariantID,
			SKU:         line.SKU,
			Description: line.Description,
			Quantity:    line.Qty,
			UnitPrice:   line.UnitPrice,
			UnitCost:    line.UnitCost,
			TotalLine:   line.Total,
		})
	}
	return out
}

func linesFromDocument(doc domain.SalesDocument) []pricedLine {
	lines := make([]pricedLine, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		lines = append(lines, pricedLine{
			VariantID:   l.VariantID,
			SKU:         l.SKU,
			Description: l.Description,
			Qty:         l.Quantity,
			UnitPrice:   l.UnitPrice,
			UnitCost:    l.UnitCost,
			Total:       l.TotalLine,
		})
	}
	return lines
}

func sortedByVariant(lines []pricedLine) []pricedLine {
	sorted := make([]pricedLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })
	return sorted
}

// withSKU names the SKU on a stock error raised by the ledger, which only
// knows variant ids.
func withSKU(err error, sku string) error {
	var stockErr *store.StockError
	if errors.As(err, &stockErr) && stockErr.SKU == "" {
		stockErr.SKU = sku
	}
	return err
}

func saleResult(doc domain.SalesDocument, settled settlement) domain.SaleResult {
	return domain.SaleResult{
		SaleID:     doc.ID,
		Folio:      doc.FolioLabel(),
		Status:     doc.Status,
		Total:      doc.Total,
		Paid:       settled.Paid,
		Change:     settled.Change,
		CreditDebt: settled.CreditDebt,
	}
}
