package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

const (
	defaultDiscrepancyLimit = 10
	maxDiscrepancyLimit     = 100
	topItemsLimit           = 5
)

// AgingReport buckets every debtor's unpaid charges by their age at asOf:
// 0-30, 31-60, 61-90 and over 90 days.
func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (domain.AgingReport, error) {
	asOf = asOf.UTC()
	debtors, err := s.repo.ListDebtors(ctx)
	if err != nil {
		return domain.AgingReport{}, err
	}

	report := domain.AgingReport{
		AsOf:            asOf,
		TotalReceivable: decimal.Zero,
		Customers:       make([]domain.CustomerAging, 0, len(debtors)),
	}
	for _, customer := range debtors {
		entries, err := s.repo.ListCustomerLedger(ctx, customer.ID)
		if err != nil {
			return domain.AgingReport{}, err
		}

		row := domain.CustomerAging{
			CustomerID:    customer.ID,
			CustomerName:  customer.Name,
			Balance:       customer.CurrentBalance,
			Current:       decimal.Zero,
			Overdue31To60: decimal.Zero,
			Overdue61To90: decimal.Zero,
			Overdue91Plus: decimal.Zero,
		}
		for _, charge := range openCharges(entries) {
			switch days := ageInDays(asOf, charge.CreatedAt); {
			case days <= 30:
				row.Current = row.Current.Add(charge.Amount)
			case days <= 60:
				row.Overdue31To60 = row.Overdue31To60.Add(charge.Amount)
			case days <= 90:
				row.Overdue61To90 = row.Overdue61To90.Add(charge.Amount)
			default:
				row.Overdue91Plus = row.Overdue91Plus.Add(charge.Amount)
			}
		}
		report.TotalReceivable = report.TotalReceivable.Add(customer.CurrentBalance)
		report.Customers = append(report.Customers, row)
	}
	return report, nil
}

// openCharges settles credits against the oldest charges first and returns
// the unpaid remainder of each charge still open. A credit larger than the
// open charges carries over to later ones.
func openCharges(entries []domain.CustomerLedgerEntry) []domain.CustomerLedgerEntry {
	open := make([]domain.CustomerLedgerEntry, 0, len(entries))
	head := 0
	credit := decimal.Zero
	for _, entry := range entries {
		switch {
		case entry.Amount.IsPositive():
			open = append(open, entry)
		case entry.Amount.IsNegative():
			credit = credit.Add(entry.Amount.Neg())
		}
		for credit.IsPositive() && head < len(open) {
			take := decimal.Min(credit, open[head].Amount)
			open[head].Amount = open[head].Amount.Sub(take)
			credit = credit.Sub(take)
			if !open[head].Amount.IsPositive() {
				head++
			}
		}
	}
	return open[head:]
}

func ageInDays(asOf time.Time, at time.Time) int {
	return int(asOf.Sub(at).Hours() / 24)
}

// CashDiscrepancies lists closed sessions whose counted cash did not match
// the expected amount, most recently closed first. An empty branch lists all.
func (s *Service) CashDiscrepancies(ctx context.Context, branchID string, limit int) ([]domain.CashSession, error) {
	if limit < 1 {
		limit = defaultDiscrepancyLimit
	}
	if limit > maxDiscrepancyLimit {
		limit = maxDiscrepancyLimit
	}
	return s.repo.ListCashDiscrepancies(ctx, strings.TrimSpace(branchID), limit)
}

// DailySummary reports revenue, the payment breakdown by method and the gross
// profit of one UTC day. Profit is taken from the unit cost snapshot on each
// line, so later cost changes do not rewrite past days.
func (s *Service) DailySummary(ctx context.Context, branchID string, date string) (domain.DailySummary, error) {
	branchID = s.branchOr(branchID, s.actor(ctx))

	from := time.Now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return domain.DailySummary{}, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	docs, err := s.repo.ListSalesDocuments(ctx, branchID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	payments, err := s.repo.ListDocumentPayments(ctx, branchID, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		Date:        from.Format("2006-01-02"),
		BranchID:    branchID,
		Revenue:     decimal.Zero,
		Returns:     decimal.Zero,
		GrossProfit: decimal.Zero,
		Payments:    make(map[domain.PaymentMethod]decimal.Decimal),
	}
	sold := make(map[string]*domain.TopItem)
	for _, doc := range docs {
		if doc.Status == domain.DocumentCancelled {
			continue
		}
		switch doc.Type {
		case domain.DocumentInvoice:
			summary.Transactions++
			summary.Revenue = summary.Revenue.Add(doc.Total)
			summary.GrossProfit = summary.GrossProfit.Add(linesProfit(doc.Lines))
			for _, line := range doc.Lines {
				item, ok := sold[line.SKU]
				if !ok {
					item = &domain.TopItem{SKU: line.SKU, Description: line.Description, Quantity: decimal.Zero}
					sold[line.SKU] = item
				}
				item.Quantity = item.Quantity.Add(line.Quantity)
			}
		case domain.DocumentReturn:
			summary.Returns = summary.Returns.Add(doc.Total)
			summary.GrossProfit = summary.GrossProfit.Sub(linesProfit(doc.Lines))
		}
	}
	summary.NetRevenue = summary.Revenue.Sub(summary.Returns)

	for _, p := range payments {
		summary.Payments[p.Method] = summary.Payments[p.Method].Add(p.Amount)
	}

	summary.TopItems = make([]domain.TopItem, 0, len(sold))
	for _, item := range sold {
		summary.TopItems = append(summary.TopItems, *item)
	}
	sort.Slice(summary.TopItems, func(i, j int) bool {
		a, b := summary.TopItems[i], summary.TopItems[j]
		if !a.Quantity.Equal(b.Quantity) {
			return a.Quantity.GreaterThan(b.Quantity)
		}
		return a.SKU < b.SKU
	})
	if len(summary.TopItems) > topItemsLimit {
		summary.TopItems = summary.TopItems[:topItemsLimit]
	}
	return summary, nil
}

// linesProfit is sale value minus cost at the time of sale.
func linesProfit(lines []domain.SalesLine) decimal.Decimal {
	profit := decimal.Zero
	for _, line := range lines {
		profit = profit.Add(line.TotalLine.Sub(line.UnitCost.Mul(line.Quantity)))
	}
	return profit
}
