package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/lock"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/store/memory"
)

const branch = memory.DefaultBranchID

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(repo, nil, lock.NewLocalLocker(), logger, Options{DefaultBranchID: branch}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "user-cashier",
		Username: "cashier",
		Role:     domain.RoleCashier,
		BranchID: branch,
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "user-admin",
		Username: "admin",
		Role:     domain.RoleAdmin,
		BranchID: branch,
	})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !got.Equal(dec(want)) {
		assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
}

func cash(amount string) domain.PaymentInput {
	return domain.PaymentInput{Method: domain.PaymentCash, Amount: dec(amount)}
}

func item(sku string, qty string) domain.SaleItem {
	return domain.SaleItem{SKU: sku, Qty: dec(qty)}
}

// assertLedgersConsistent checks that every cached quantity equals the sum of
// its ledger, which is what a rebuild with zero drift means.
func assertLedgersConsistent(t *testing.T, svc *Service, branches ...string) {
	t.Helper()
	ctx := adminCtx()
	for _, b := range append([]string{branch}, branches...) {
		results, err := svc.RebuildBranchStock(ctx, b)
		require.NoError(t, err)
		for _, r := range results {
			assert.True(t, r.Drift.IsZero(), "stock drift on %s: before %s after %s", r.Key, r.Before, r.After)
		}
	}
	for _, id := range []string{"cust-lupita", "cust-general"} {
		r, err := svc.RebuildCustomerBalance(ctx, id)
		require.NoError(t, err)
		assert.True(t, r.Drift.IsZero(), "balance drift on %s: before %s after %s", id, r.Before, r.After)
	}
}

func TestResolveUnitPriceTiers(t *testing.T) {
	tiers := []domain.PriceTier{
		{MinQuantity: dec("10"), UnitPrice: dec("9")},
		{MinQuantity: dec("1"), UnitPrice: dec("10")},
		{MinQuantity: dec("50"), UnitPrice: dec("8")},
	}

	cases := []struct {
		qty  string
		want string
	}{
		{"5", "10"},
		{"9.5", "10"},
		{"10", "9"},
		{"12", "9"},
		{"50", "8"},
		{"60", "8"},
	}
	for _, tc := range cases {
		got := ResolveUnitPrice(dec("11"), tiers, dec(tc.qty))
		assertDecimal(t, tc.want, got, "qty %s", tc.qty)
	}

	assertDecimal(t, "11", ResolveUnitPrice(dec("11"), nil, dec("100")))
	assertDecimal(t, "11", ResolveUnitPrice(dec("11"), tiers, dec("0.5")))
}

func TestCreateSaleBooksStockMovementAndFolio(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	result, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("coca600", "2")},
		Payments: []domain.PaymentInput{cash("50")},
	})
	require.NoError(t, err)

	assert.Equal(t, "A-1", result.Folio)
	assert.Equal(t, domain.DocumentPaid, result.Status)
	assertDecimal(t, "36", result.Total)
	assertDecimal(t, "50", result.Paid)
	assertDecimal(t, "14", result.Change)
	assertDecimal(t, "0", result.CreditDebt)

	onHand, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "8", onHand)

	kardex, err := svc.GetKardex(ctx, branch, "var-coca600", 0, 0)
	require.NoError(t, err)
	require.Len(t, kardex, 2)
	sale := kardex[0]
	assert.Equal(t, domain.MovementSaleOut, sale.Type)
	assertDecimal(t, "-2", sale.QtyChange)
	assertDecimal(t, "10", sale.QtyBefore)
	assertDecimal(t, "8", sale.QtyAfter)
	assert.Equal(t, "A-1", sale.Reference)

	doc, err := svc.GetSalesDocument(ctx, result.SaleID)
	require.NoError(t, err)
	require.Len(t, doc.Lines, 1)
	assertDecimal(t, "18", doc.Lines[0].UnitPrice)
	assertDecimal(t, "12.50", doc.Lines[0].UnitCost)
	require.Len(t, doc.Payments, 1)
	assertDecimal(t, "36", doc.Payments[0].Amount, "cash payment is stored net of change")

	assertLedgersConsistent(t, svc)
}

func TestCreateSaleMergesDuplicateSKUsBeforeTierPricing(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Items:    []domain.SaleItem{item("AGUA1L", "6"), item("agua1l", "6")},
		Payments: []domain.PaymentInput{cash("108")},
	})
	require.NoError(t, err)
	assertDecimal(t, "108", result.Total)
}

func TestOversellLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("AGUA1L", "1"), item("COCA600", "11")},
		Payments: []domain.PaymentInput{cash("500")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "COCA600", stockErr.SKU)
	assertDecimal(t, "11", stockErr.Requested)
	assertDecimal(t, "10", stockErr.Available)

	onHand, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "10", onHand)
	water, err := repo.GetOnHand(ctx, branch, "var-agua1l")
	require.NoError(t, err)
	assertDecimal(t, "100", water)

	kardex, err := svc.GetKardex(ctx, branch, "var-agua1l", 10, 0)
	require.NoError(t, err)
	assert.Len(t, kardex, 1)

	next, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("18")},
	})
	require.NoError(t, err)
	assert.Equal(t, "A-1", next.Folio, "a failed sale must not consume a folio")
}

func TestCreditSaleWithinLimitRaisesBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	result, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("AGUA1L", "50"), item("CAFE500", "1")},
		Payments:   []domain.PaymentInput{cash("20")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentPending, result.Status)
	assertDecimal(t, "520", result.Total)
	assertDecimal(t, "500", result.CreditDebt)

	customer, err := svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "900", customer.CurrentBalance)

	statement, err := svc.GetCustomerStatement(ctx, "cust-lupita", 0, 0)
	require.NoError(t, err)
	require.Len(t, statement, 2)
	assertDecimal(t, "500", statement[0].Amount)
	assert.Equal(t, result.SaleID, statement[0].DocumentID)

	assertLedgersConsistent(t, svc)
}

func TestCreditSaleOverLimitMutatesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("AGUA1L", "100")},
		Payments:   []domain.PaymentInput{{Method: domain.PaymentCard, Amount: dec("100")}},
	})
	require.ErrorIs(t, err, store.ErrCreditLimitExceeded)
	var creditErr *store.CreditError
	require.True(t, errors.As(err, &creditErr))
	assertDecimal(t, "700", creditErr.Requested)
	assertDecimal(t, "400", creditErr.Balance)

	customer, err := svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "400", customer.CurrentBalance)

	water, err := repo.GetOnHand(ctx, branch, "var-agua1l")
	require.NoError(t, err)
	assertDecimal(t, "100", water)

	statement, err := svc.GetCustomerStatement(ctx, "cust-lupita", 10, 0)
	require.NoError(t, err)
	assert.Len(t, statement, 1)
}

func TestUnderpaidSaleRequiresCreditCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("10")},
	})
	assert.ErrorIs(t, err, store.ErrMissingCustomerForCredit)

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-general",
		Items:      []domain.SaleItem{item("COCA600", "1")},
	})
	assert.ErrorIs(t, err, store.ErrMissingCustomerForCredit)
}

func TestChangeCannotComeFromCard(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{{Method: domain.PaymentCard, Amount: dec("20")}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
	assert.ErrorIs(t, err, store.ErrChangeExceedsCash)
}

func TestTenderErrorsAreDistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("COCA600", "1")},
		Payments:   []domain.PaymentInput{{Method: domain.PaymentStoreCredit, Amount: dec("18")}},
	})
	assert.ErrorIs(t, err, store.ErrStoreCreditTender)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("-5")},
	})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
	assert.NotErrorIs(t, err, store.ErrChangeExceedsCash)

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("2"), {Method: domain.PaymentTransfer, Amount: dec("20")}},
	})
	assert.ErrorIs(t, err, store.ErrChangeExceedsCash)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("15"), {Method: domain.PaymentCard, Amount: dec("5")}},
	})
	require.NoError(t, err)
	assertDecimal(t, "2", sale.Change)
}

func TestCashSessionReconciliation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	session, err := svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningBalance: dec("500")})
	require.NoError(t, err)

	_, err = svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningBalance: dec("100")})
	require.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	first, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("AGUA1L", "100")},
		Payments: []domain.PaymentInput{cash("1000")},
	})
	require.NoError(t, err)
	assertDecimal(t, "200", first.Change)

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("ARROZ1K", "10"), item("CAFE500", "1")},
		Payments: []domain.PaymentInput{cash("400")},
	})
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{{Method: domain.PaymentCard, Amount: dec("18")}},
	})
	require.NoError(t, err)

	_, err = svc.RegisterCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashIn, Amount: dec("100"), Reason: "cambio"})
	require.NoError(t, err)
	_, err = svc.RegisterCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashOut, Amount: dec("50"), Reason: "garrafones"})
	require.NoError(t, err)
	_, err = svc.RegisterCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashOut, Amount: dec("0"), Reason: "nada"})
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	doc, err := svc.GetSalesDocument(ctx, first.SaleID)
	require.NoError(t, err)
	require.Len(t, doc.Payments, 1)
	assert.Equal(t, session.ID, doc.Payments[0].CashSessionID)

	summary, err := svc.CashSessionSummary(ctx, session.ID)
	require.NoError(t, err)
	assertDecimal(t, "1200", summary.CashSales)
	assertDecimal(t, "1750", summary.Expected)

	closed, err := svc.CloseCashSession(ctx, session.ID, domain.CashSessionCloseRequest{CountedAmount: dec("1740")})
	require.NoError(t, err)
	assertDecimal(t, "1750", closed.Expected)
	assertDecimal(t, "1740", closed.Reported)
	assertDecimal(t, "-10", closed.Difference)
	assert.Equal(t, domain.CashSessionClosed, closed.Session.Status)
	require.NotNil(t, closed.Session.ClosedAt)

	_, err = svc.CloseCashSession(ctx, session.ID, domain.CashSessionCloseRequest{CountedAmount: dec("1740")})
	assert.ErrorIs(t, err, store.ErrNoOpenSession)
	_, err = svc.RegisterCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashIn, Amount: dec("1"), Reason: "tarde"})
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	_, err = svc.CashSessionStatus(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCashierCannotOpenSessionForSomeoneElse(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.OpenCashSession(cashierCtx(), domain.CashSessionOpenRequest{UserID: "user-admin", OpeningBalance: dec("0")})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	session, err := svc.OpenCashSession(adminCtx(), domain.CashSessionOpenRequest{UserID: "user-cashier", OpeningBalance: dec("0")})
	require.NoError(t, err)

	status, err := svc.CashSessionStatus(cashierCtx())
	require.NoError(t, err)
	assert.Equal(t, session.ID, status.ID)
}

func TestCashierCannotOperateSomeoneElsesSession(t *testing.T) {
	svc, _ := newTestService(t)
	other := WithActor(context.Background(), domain.Actor{
		UserID:   "user-cajera2",
		Username: "cajera2",
		Role:     domain.RoleCashier,
		BranchID: branch,
	})

	session, err := svc.OpenCashSession(cashierCtx(), domain.CashSessionOpenRequest{OpeningBalance: dec("500")})
	require.NoError(t, err)

	_, err = svc.RegisterCashMovement(other, session.ID, domain.CashMovementRequest{Type: domain.CashOut, Amount: dec("400"), Reason: "retiro"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.CloseCashSession(other, session.ID, domain.CashSessionCloseRequest{CountedAmount: dec("0")})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.CashSessionSummary(other, session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	summary, err := svc.CashSessionSummary(cashierCtx(), session.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", summary.Outflows)
	assertDecimal(t, "500", summary.Expected)

	_, err = svc.RegisterCashMovement(adminCtx(), session.ID, domain.CashMovementRequest{Type: domain.CashOut, Amount: dec("100"), Reason: "deposito banco"})
	require.NoError(t, err)
	closed, err := svc.CloseCashSession(adminCtx(), session.ID, domain.CashSessionCloseRequest{CountedAmount: dec("400")})
	require.NoError(t, err)
	assertDecimal(t, "0", closed.Difference)
}

func TestConcurrentSalesGetContiguousFolios(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	const sales = 20
	var wg sync.WaitGroup
	folios := make(chan string, sales)
	for i := 0; i < sales; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.CreateSale(ctx, domain.SaleRequest{
				Items:    []domain.SaleItem{item("AGUA1L", "1")},
				Payments: []domain.PaymentInput{cash("10")},
			})
			if assert.NoError(t, err) {
				folios <- result.Folio
			}
		}()
	}
	wg.Wait()
	close(folios)

	seen := make(map[string]bool, sales)
	for folio := range folios {
		assert.False(t, seen[folio], "folio %s issued twice", folio)
		seen[folio] = true
	}
	for n := 1; n <= sales; n++ {
		assert.True(t, seen[domain.FolioLabel(domain.SeriesSales, int64(n))], "missing folio %d", n)
	}

	onHand, err := repo.GetOnHand(ctx, branch, "var-agua1l")
	require.NoError(t, err)
	assertDecimal(t, "80", onHand)
	assertLedgersConsistent(t, svc)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	const attempts = 15
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		shortage int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, domain.SaleRequest{
				Items:    []domain.SaleItem{item("COCA600", "1")},
				Payments: []domain.PaymentInput{cash("18")},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrInsufficientStock):
				shortage++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, attempts-10, shortage)
	onHand, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "0", onHand)
	assertLedgersConsistent(t, svc)
}

func TestPayCustomerAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	resp, err := svc.PayCustomerAccount(ctx, "cust-lupita", domain.CustomerPaymentRequest{Amount: dec("150"), Method: domain.PaymentCash})
	require.NoError(t, err)
	assertDecimal(t, "250", resp.NewBalance)
	assert.NotEmpty(t, resp.PaymentID)

	resp, err = svc.PayCustomerAccount(ctx, "cust-lupita", domain.CustomerPaymentRequest{Amount: dec("300"), Method: domain.PaymentTransfer})
	require.NoError(t, err)
	assertDecimal(t, "-50", resp.NewBalance)

	_, err = svc.PayCustomerAccount(ctx, "cust-lupita", domain.CustomerPaymentRequest{Amount: dec("0"), Method: domain.PaymentCash})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
	_, err = svc.PayCustomerAccount(ctx, "cust-missing", domain.CustomerPaymentRequest{Amount: dec("1"), Method: domain.PaymentCash})
	assert.ErrorIs(t, err, store.ErrNotFound)

	statement, err := svc.GetCustomerStatement(ctx, "cust-lupita", 2, 0)
	require.NoError(t, err)
	require.Len(t, statement, 2)
	assertDecimal(t, "-300", statement[0].Amount)
	assertDecimal(t, "-150", statement[1].Amount)

	older, err := svc.GetCustomerStatement(ctx, "cust-lupita", 2, 2)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assertDecimal(t, "400", older[0].Amount)

	assertLedgersConsistent(t, svc)
}

func TestDeactivateCustomerRequiresZeroBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	err := svc.DeactivateCustomer(ctx, "cust-lupita")
	require.ErrorIs(t, err, store.ErrCustomerHasBalance)

	_, err = svc.PayCustomerAccount(ctx, "cust-lupita", domain.CustomerPaymentRequest{Amount: dec("400"), Method: domain.PaymentCash})
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateCustomer(ctx, "cust-lupita"))

	customer, err := svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assert.False(t, customer.Active)

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("COCA600", "1")},
	})
	assert.Error(t, err)
}

func TestAdjustStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	resp, err := svc.AdjustStock(ctx, domain.StockAdjustRequest{VariantID: "var-coca600", Delta: dec("5"), Reason: "conteo"})
	require.NoError(t, err)
	assertDecimal(t, "15", resp.NewQty)
	assert.Equal(t, domain.MovementAdjustmentIn, resp.Movement.Type)

	resp, err = svc.AdjustStock(ctx, domain.StockAdjustRequest{VariantID: "var-coca600", Delta: dec("-3"), Reason: "merma"})
	require.NoError(t, err)
	assertDecimal(t, "12", resp.NewQty)
	assert.Equal(t, domain.MovementAdjustmentOut, resp.Movement.Type)

	_, err = svc.AdjustStock(ctx, domain.StockAdjustRequest{VariantID: "var-coca600", Delta: dec("-20"), Reason: "merma"})
	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "COCA600", stockErr.SKU)

	_, err = svc.AdjustStock(ctx, domain.StockAdjustRequest{VariantID: "var-coca600", Delta: dec("0"), Reason: "nada"})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
	_, err = svc.AdjustStock(ctx, domain.StockAdjustRequest{VariantID: "var-nope", Delta: dec("1"), Reason: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	assertLedgersConsistent(t, svc)
}

func TestRecordMovementRejectsSignMismatch(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := StockLedger{}.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID: branch, VariantID: "var-coca600", Type: domain.MovementSaleOut, QtyChange: dec("2"),
		})
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := StockLedger{}.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID: branch, VariantID: "var-coca600", Type: domain.MovementPurchaseIn, QtyChange: dec("-2"),
		})
		return err
	})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
}

func TestReceivePurchaseUsesWeightedAverageCost(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	resp, err := svc.ReceivePurchase(ctx, domain.PurchaseReceiveRequest{VariantID: "var-coca600", Qty: dec("10"), UnitCost: dec("14.50"), Reference: "FAC-881"})
	require.NoError(t, err)
	assertDecimal(t, "20", resp.NewQty)
	assert.Equal(t, domain.MovementPurchaseIn, resp.Movement.Type)
	assert.Equal(t, "FAC-881", resp.Movement.Reference)

	variant, err := repo.GetVariant(ctx, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "13.5", variant.Cost)
}

func TestWeightedAverageCostCountsEveryBranch(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	_, err := svc.TransferStock(ctx, domain.StockTransferRequest{ToBranchID: "sucursal-norte", VariantID: "var-coca600", Qty: dec("8")})
	require.NoError(t, err)

	// 2 left here and 8 in the north branch, all at 12.50.
	resp, err := svc.ReceivePurchase(ctx, domain.PurchaseReceiveRequest{BranchID: "sucursal-norte", VariantID: "var-coca600", Qty: dec("10"), UnitCost: dec("14.50")})
	require.NoError(t, err)
	assertDecimal(t, "8", resp.Movement.QtyBefore)
	assertDecimal(t, "18", resp.NewQty)

	variant, err := repo.GetVariant(ctx, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "13.5", variant.Cost)

	assertLedgersConsistent(t, svc, "sucursal-norte")
}

func TestTransferStockBetweenBranches(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	resp, err := svc.TransferStock(ctx, domain.StockTransferRequest{ToBranchID: "sucursal-norte", VariantID: "var-coca600", Qty: dec("4")})
	require.NoError(t, err)
	assert.Equal(t, resp.Reference, resp.Out.Reference)
	assert.Equal(t, resp.Reference, resp.In.Reference)
	assert.Equal(t, domain.MovementTransferOut, resp.Out.Type)
	assert.Equal(t, domain.MovementTransferIn, resp.In.Type)

	home, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "6", home)
	north, err := repo.GetOnHand(ctx, "sucursal-norte", "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "4", north)

	_, err = svc.TransferStock(ctx, domain.StockTransferRequest{ToBranchID: "sucursal-norte", VariantID: "var-coca600", Qty: dec("7")})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	_, err = svc.TransferStock(ctx, domain.StockTransferRequest{ToBranchID: branch, VariantID: "var-coca600", Qty: dec("1")})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	assertLedgersConsistent(t, svc, "sucursal-norte")
}

func TestQuoteLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	quote, err := svc.CreateQuote(ctx, domain.QuoteRequest{Items: []domain.SaleItem{item("COCA600", "2")}})
	require.NoError(t, err)
	assert.Equal(t, "Q-1", quote.FolioLabel())
	assert.Equal(t, domain.DocumentDraft, quote.Status)
	assertDecimal(t, "36", quote.Total)

	onHand, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "10", onHand, "quotes do not reserve stock")

	result, err := svc.ConvertQuote(ctx, quote.ID, domain.QuoteConvertRequest{Payments: []domain.PaymentInput{cash("100")}})
	require.NoError(t, err)
	assert.Equal(t, "A-1", result.Folio)
	assert.Equal(t, quote.ID, result.SaleID)
	assertDecimal(t, "64", result.Change)

	doc, err := svc.GetSalesDocument(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentInvoice, doc.Type)
	assert.Equal(t, domain.DocumentPaid, doc.Status)

	onHand, err = repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "8", onHand)

	_, err = svc.ConvertQuote(ctx, quote.ID, domain.QuoteConvertRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidDocumentState)

	other, err := svc.CreateQuote(ctx, domain.QuoteRequest{Items: []domain.SaleItem{item("PANBCO", "1")}})
	require.NoError(t, err)
	assert.Equal(t, "Q-2", other.FolioLabel())
	cancelled, err := svc.CancelQuote(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentCancelled, cancelled.Status)
	_, err = svc.CancelQuote(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrInvalidDocumentState)
	_, err = svc.ConvertQuote(ctx, other.ID, domain.QuoteConvertRequest{Payments: []domain.PaymentInput{cash("35")}})
	assert.ErrorIs(t, err, store.ErrInvalidDocumentState)

	assertLedgersConsistent(t, svc)
}

func TestReturnRestocksAndRefunds(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "4")},
		Payments: []domain.PaymentInput{cash("72")},
	})
	require.NoError(t, err)

	ret, err := svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       sale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "COCA600", Qty: dec("3")}},
		Reason:       "producto caliente",
		RefundMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assert.Equal(t, "R-1", ret.Folio)
	assertDecimal(t, "54", ret.Refund)

	onHand, err := repo.GetOnHand(ctx, branch, "var-coca600")
	require.NoError(t, err)
	assertDecimal(t, "9", onHand)

	kardex, err := svc.GetKardex(ctx, branch, "var-coca600", 1, 0)
	require.NoError(t, err)
	require.Len(t, kardex, 1)
	assert.Equal(t, domain.MovementReturn, kardex[0].Type)
	assertDecimal(t, "3", kardex[0].QtyChange)
	assert.Equal(t, "R-1", kardex[0].Reference)

	doc, err := svc.GetSalesDocument(ctx, ret.ReturnID)
	require.NoError(t, err)
	assert.Equal(t, sale.SaleID, doc.SourceDocumentID)
	require.Len(t, doc.Payments, 1)
	assertDecimal(t, "-54", doc.Payments[0].Amount)

	_, err = svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       sale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "COCA600", Qty: dec("2")}},
		Reason:       "otra vez",
		RefundMethod: domain.PaymentCash,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction, "only one unit is left to return")

	_, err = svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       sale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "PANBCO", Qty: dec("1")}},
		Reason:       "no vendido",
		RefundMethod: domain.PaymentCash,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	assertLedgersConsistent(t, svc)
}

func TestStoreCreditReturnLowersBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("CAFE250", "2")},
	})
	require.NoError(t, err)
	assertDecimal(t, "130", sale.CreditDebt)

	ret, err := svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       sale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "cafe250", Qty: dec("1")}},
		Reason:       "empaque roto",
		RefundMethod: domain.PaymentStoreCredit,
	})
	require.NoError(t, err)
	assertDecimal(t, "65", ret.Refund)

	customer, err := svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "465", customer.CurrentBalance)

	cashSale, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("PANBCO", "1")},
		Payments: []domain.PaymentInput{cash("35")},
	})
	require.NoError(t, err)
	_, err = svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       cashSale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "PANBCO", Qty: dec("1")}},
		Reason:       "duro",
		RefundMethod: domain.PaymentStoreCredit,
	})
	assert.ErrorIs(t, err, store.ErrMissingCustomerForCredit)

	assertLedgersConsistent(t, svc)
}

func TestCashReturnOnCreditSaleReducesDebt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningBalance: dec("200")})
	require.NoError(t, err)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("CAFE250", "2")},
	})
	require.NoError(t, err)
	assertDecimal(t, "130", sale.CreditDebt)

	ret, err := svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       sale.SaleID,
		Items:        []domain.ReturnItem{{SKU: "CAFE250", Qty: dec("2")}},
		Reason:       "no era el molido",
		RefundMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assertDecimal(t, "130", ret.Refund)
	assertDecimal(t, "0", ret.PaidBack)
	assertDecimal(t, "130", ret.Credited)

	doc, err := svc.GetSalesDocument(ctx, ret.ReturnID)
	require.NoError(t, err)
	assert.Empty(t, doc.Payments, "nothing was paid, nothing is paid back")

	customer, err := svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "400", customer.CurrentBalance)

	entries, err := svc.GetCustomerStatement(ctx, "cust-lupita", 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assertDecimal(t, "-130", entries[0].Amount)
	assert.Equal(t, ret.ReturnID, entries[0].DocumentID)

	// Partly paid: money back up to what was paid, the rest off the debt.
	partial, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-lupita",
		Items:      []domain.SaleItem{item("CAFE500", "1")},
		Payments:   []domain.PaymentInput{cash("50")},
	})
	require.NoError(t, err)
	assertDecimal(t, "70", partial.CreditDebt)

	first, err := svc.CreateReturn(ctx, domain.ReturnRequest{
		SaleID:       partial.SaleID,
		Items:        []domain.ReturnItem{{SKU: "CAFE500", Qty: dec("1")}},
		Reason:       "caducado",
		RefundMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assertDecimal(t, "120", first.Refund)
	assertDecimal(t, "50", first.PaidBack)
	assertDecimal(t, "70", first.Credited)

	doc, err = svc.GetSalesDocument(ctx, first.ReturnID)
	require.NoError(t, err)
	require.Len(t, doc.Payments, 1)
	assertDecimal(t, "-50", doc.Payments[0].Amount)
	assert.NotEmpty(t, doc.Payments[0].CashSessionID)

	customer, err = svc.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "400", customer.CurrentBalance)

	status, err := svc.CashSessionStatus(ctx)
	require.NoError(t, err)
	summary, err := svc.CashSessionSummary(ctx, status.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", summary.CashSales)
	assertDecimal(t, "200", summary.Expected)

	assertLedgersConsistent(t, svc)
}

func TestRebuildRepairsDriftedCaches(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.SetStock(ctx, branch, "var-panbco", dec("37"), time.Now().UTC()); err != nil {
			return err
		}
		return tx.SetCustomerBalance(ctx, "cust-lupita", dec("410"))
	}))

	stock, err := svc.RebuildStockOnHand(ctx, branch, "var-panbco")
	require.NoError(t, err)
	assertDecimal(t, "37", stock.Before)
	assertDecimal(t, "40", stock.After)
	assertDecimal(t, "-3", stock.Drift)

	balance, err := svc.RebuildCustomerBalance(ctx, "cust-lupita")
	require.NoError(t, err)
	assertDecimal(t, "10", balance.Drift)
	assertDecimal(t, "400", balance.After)

	assertLedgersConsistent(t, svc)
}

type mapCatalogCache struct {
	mu      sync.Mutex
	entries map[string]*domain.CatalogEntry
}

func (c *mapCatalogCache) Get(_ context.Context, sku string) (*domain.CatalogEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sku]
	return entry, ok, nil
}

func (c *mapCatalogCache) Set(_ context.Context, sku string, value *domain.CatalogEntry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sku] = value
	return nil
}

func (c *mapCatalogCache) Invalidate(_ context.Context, sku string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sku)
	return nil
}

func TestPriceTierChangeInvalidatesCatalogCache(t *testing.T) {
	repo := memory.NewSeeded()
	catalog := &mapCatalogCache{entries: map[string]*domain.CatalogEntry{}}
	svc := New(repo, catalog, nil, nil, Options{DefaultBranchID: branch})
	ctx := adminCtx()

	quote, err := svc.UnitPrice(ctx, "coca600", dec("12"))
	require.NoError(t, err)
	assertDecimal(t, "18", quote.UnitPrice)
	_, cached, _ := catalog.Get(ctx, "COCA600")
	assert.True(t, cached)

	_, err = svc.SetPriceTiers(ctx, "COCA600", domain.PriceTiersRequest{Tiers: []domain.PriceTierInput{
		{Name: "caja", MinQuantity: dec("12"), UnitPrice: dec("15")},
	}})
	require.NoError(t, err)
	_, cached, _ = catalog.Get(ctx, "COCA600")
	assert.False(t, cached)

	quote, err = svc.UnitPrice(ctx, "COCA600", dec("12"))
	require.NoError(t, err)
	assertDecimal(t, "15", quote.UnitPrice)
	assertDecimal(t, "180", quote.Total)

	_, err = svc.SetPriceTiers(ctx, "COCA600", domain.PriceTiersRequest{Tiers: []domain.PriceTierInput{
		{MinQuantity: dec("6"), UnitPrice: dec("16")},
		{MinQuantity: dec("6.0"), UnitPrice: dec("15")},
	}})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCreateProductAndDefaultVariant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "Jabon",
		Variants: []domain.VariantCreateRequest{
			{SKU: "jabon-chico", Name: "Jabon chico", Price: dec("12"), Cost: dec("7")},
			{SKU: "jabon-grande", Name: "Jabon grande", Price: dec("20"), Cost: dec("12"), Default: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, created.Variants, 2)
	assert.Equal(t, "JABON-CHICO", created.Variants[0].SKU)

	def, err := svc.GetDefaultVariant(ctx, created.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, "JABON-GRANDE", def.SKU)

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:     "Duplicado",
		Variants: []domain.VariantCreateRequest{{SKU: "COCA600", Name: "x", Price: dec("1")}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.GetDefaultVariant(ctx, "prod-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMutationsWriteAuditLog(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:    []domain.SaleItem{item("COCA600", "1")},
		Payments: []domain.PaymentInput{cash("18")},
	})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(adminCtx(), branch, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "sale_create", logs[0].Action)
	assert.Equal(t, "cashier", logs[0].ActorUsername)
}
