package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

// StockLedger is the only writer of inventory movements and of the on-hand
// cache. Every change goes through RecordMovement so that the sum of
// movements for a (branch, variant) always equals its on-hand quantity.
type StockLedger struct{}

// RecordMovement locks the stock row, appends the movement and writes the new
// on-hand quantity inside tx. Outgoing movements never take on-hand below zero.
func (StockLedger) RecordMovement(ctx context.Context, tx store.Tx, in domain.MovementInput) (domain.InventoryMovement, error) {
	if strings.TrimSpace(in.BranchID) == "" || strings.TrimSpace(in.VariantID) == "" || !in.Type.Valid() {
		return domain.InventoryMovement{}, store.ErrInvalidTransaction
	}
	if in.QtyChange.IsZero() {
		return domain.InventoryMovement{}, store.ErrInvalidAmount
	}
	if in.Type.Outgoing() != in.QtyChange.IsNegative() {
		return domain.InventoryMovement{}, store.ErrInvalidAmount
	}

	row, err := tx.LockStock(ctx, in.BranchID, in.VariantID)
	if err != nil {
		return domain.InventoryMovement{}, err
	}

	after := row.Qty.Add(in.QtyChange)
	if after.IsNegative() {
		return domain.InventoryMovement{}, &store.StockError{
			VariantID: in.VariantID,
			Requested: in.QtyChange.Abs(),
			Available: row.Qty,
		}
	}

	now := time.Now().UTC()
	movement := domain.InventoryMovement{
		ID:        xid.New("mov"),
		BranchID:  in.BranchID,
		VariantID: in.VariantID,
		UserID:    in.UserID,
		Type:      in.Type,
		QtyChange: in.QtyChange,
		QtyBefore: row.Qty,
		QtyAfter:  after,
		Reference: in.Reference,
		Notes:     in.Notes,
		CreatedAt: now,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return domain.InventoryMovement{}, err
	}
	if err := tx.SetStock(ctx, in.BranchID, in.VariantID, after, now); err != nil {
		return domain.InventoryMovement{}, err
	}
	return movement, nil
}

// lockStockRows takes the stock row locks for every line in variant id order
// and verifies availability under the lock.
func lockStockRows(ctx context.Context, tx store.Tx, branchID string, lines []pricedLine) error {
	for _, line := range sortedByVariant(lines) {
		row, err := tx.LockStock(ctx, branchID, line.VariantID)
		if err != nil {
			return err
		}
		if row.Qty.LessThan(line.Qty) {
			return &store.StockError{
				SKU:       line.SKU,
				VariantID: line.VariantID,
				Requested: line.Qty,
				Available: row.Qty,
			}
		}
	}
	return nil
}

func weightedAverageCost(oldCost decimal.Decimal, oldQty decimal.Decimal, incomingCost decimal.Decimal, incomingQty decimal.Decimal) decimal.Decimal {
	if oldQty.IsNegative() {
		oldQty = decimal.Zero
	}
	totalQty := oldQty.Add(incomingQty)
	if !totalQty.IsPositive() {
		return incomingCost
	}
	return oldCost.Mul(oldQty).Add(incomingCost.Mul(incomingQty)).DivRound(totalQty, 4)
}
