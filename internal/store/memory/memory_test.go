package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

func TestSeededStockMatchesMovements(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	keys, err := s.ListStockKeys(ctx, DefaultBranchID)
	require.NoError(t, err)
	require.NotEmpty(t, keys)

	for _, variantID := range keys {
		onHand, err := s.GetOnHand(ctx, DefaultBranchID, variantID)
		require.NoError(t, err)
		err = s.WithinTx(ctx, func(tx store.Tx) error {
			sum, err := tx.SumMovements(ctx, DefaultBranchID, variantID)
			require.NoError(t, err)
			assert.True(t, sum.Equal(onHand), "variant %s: sum %s on hand %s", variantID, sum, onHand)
			return nil
		})
		require.NoError(t, err)
	}

	coca, err := s.GetVariantBySKU(ctx, "COCA600")
	require.NoError(t, err)
	onHand, err := s.GetOnHand(ctx, DefaultBranchID, coca.ID)
	require.NoError(t, err)
	assert.True(t, onHand.Equal(decimal.NewFromInt(10)))
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")
	now := time.Now().UTC()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		row, err := tx.LockStock(ctx, DefaultBranchID, "var-coca600")
		require.NoError(t, err)
		require.NoError(t, tx.SetStock(ctx, DefaultBranchID, "var-coca600", row.Qty.Sub(decimal.NewFromInt(3)), now))
		require.NoError(t, tx.InsertMovement(ctx, domain.InventoryMovement{
			ID: "mov-x", BranchID: DefaultBranchID, VariantID: "var-coca600",
			Type: domain.MovementSaleOut, QtyChange: decimal.NewFromInt(-3), CreatedAt: now,
		}))
		folio, err := tx.NextFolio(ctx, DefaultBranchID, domain.SeriesSales)
		require.NoError(t, err)
		require.NoError(t, tx.InsertSalesDocument(ctx, domain.SalesDocument{
			ID: "doc-x", Type: domain.DocumentInvoice, Status: domain.DocumentPaid,
			BranchID: DefaultBranchID, Series: domain.SeriesSales, Folio: folio, CreatedAt: now,
		}))
		require.NoError(t, tx.SetCustomerBalance(ctx, "cust-lupita", decimal.NewFromInt(999)))
		require.NoError(t, tx.InsertCashSession(ctx, domain.CashSession{
			ID: "cs-x", UserID: "user-cashier", Status: domain.CashSessionOpen, OpenedAt: now,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	onHand, err := s.GetOnHand(ctx, DefaultBranchID, "var-coca600")
	require.NoError(t, err)
	assert.True(t, onHand.Equal(decimal.NewFromInt(10)))

	movements, err := s.ListMovements(ctx, DefaultBranchID, "var-coca600", 10, 0)
	require.NoError(t, err)
	assert.Len(t, movements, 1)

	_, err = s.GetSalesDocument(ctx, "doc-x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	customer, err := s.GetCustomer(ctx, "cust-lupita")
	require.NoError(t, err)
	assert.True(t, customer.CurrentBalance.Equal(decimal.NewFromInt(400)))

	_, err = s.GetOpenCashSession(ctx, "user-cashier")
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	// The folio sequence was rolled back too, so the next one is still 1.
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		folio, err := tx.NextFolio(ctx, DefaultBranchID, domain.SeriesSales)
		require.NoError(t, err)
		assert.Equal(t, int64(1), folio)
		return nil
	})
	require.NoError(t, err)
}

func TestDuplicateFolioIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := domain.SalesDocument{ID: "d1", BranchID: "b1", Series: "A", Folio: 7}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertSalesDocument(ctx, doc)
	}))

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		dup := doc
		dup.ID = "d2"
		return tx.InsertSalesDocument(ctx, dup)
	})
	assert.ErrorIs(t, err, store.ErrFolioConflict)
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	// Same folio in another branch is fine.
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		other := doc
		other.ID = "d3"
		other.BranchID = "b2"
		return tx.InsertSalesDocument(ctx, other)
	}))
}

func TestSecondOpenSessionForUserIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	open := domain.CashSession{ID: "s1", UserID: "u1", Status: domain.CashSessionOpen}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error { return tx.InsertCashSession(ctx, open) }))

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		second := open
		second.ID = "s2"
		return tx.InsertCashSession(ctx, second)
	})
	assert.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		closed := open
		closed.Status = domain.CashSessionClosed
		return tx.UpdateCashSession(ctx, closed)
	}))
	_, err = s.GetOpenCashSession(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNoOpenSession)
}

func TestListMovementsNewestFirstWithPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateProduct(ctx, domain.Product{ID: "p1", Name: "P"}, []domain.Variant{{ID: "v1", SKU: "SKU1"}}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		for i := 0; i < 5; i++ {
			if err := tx.InsertMovement(ctx, domain.InventoryMovement{
				ID: string(rune('a' + i)), BranchID: "b1", VariantID: "v1",
				QtyChange: decimal.NewFromInt(1), CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	page, err := s.ListMovements(ctx, "b1", "v1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].ID)
	assert.Equal(t, "c", page[1].ID)
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	s := NewSeeded()
	err := s.CreateProduct(context.Background(), domain.Product{ID: "p-new", Name: "Otra"}, []domain.Variant{{ID: "v-new", SKU: "COCA600"}})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}
