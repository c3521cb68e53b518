package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

const (
	defaultKardexLimit = 100
	maxKardexLimit     = 500
)

// AdjustStock books a manual correction. A positive delta is ADJUSTMENT_IN,
// a negative one ADJUSTMENT_OUT.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor := s.actor(ctx)
	branchID := s.branchOr(req.BranchID, actor)
	reason := strings.TrimSpace(req.Reason)
	if strings.TrimSpace(req.VariantID) == "" || reason == "" {
		return domain.StockAdjustResponse{}, store.ErrInvalidTransaction
	}
	if req.Delta.IsZero() {
		return domain.StockAdjustResponse{}, store.ErrInvalidAmount
	}
	variant, err := s.repo.GetVariant(ctx, req.VariantID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	movementType := domain.MovementAdjustmentIn
	if req.Delta.IsNegative() {
		movementType = domain.MovementAdjustmentOut
	}

	var movement domain.InventoryMovement
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		movement, err = s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID:  branchID,
			VariantID: variant.ID,
			UserID:    actor.UserID,
			Type:      movementType,
			QtyChange: req.Delta,
			Reference: reason,
			Notes:     strings.TrimSpace(req.Notes),
		})
		return withSKU(err, variant.SKU)
	})
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	s.logAudit(ctx, branchID, "stock_adjust", "variant", variant.ID, fmt.Sprintf("sku=%s,delta=%s,reason=%s", variant.SKU, req.Delta, reason))

	return domain.StockAdjustResponse{NewQty: movement.QtyAfter, Movement: movement}, nil
}

// ReceivePurchase books a PURCHASE_IN movement and moves the variant cost to
// the weighted average of the stock before and the received units. The cost
// is global, so the stock before is the total on hand across all branches.
func (s *Service) ReceivePurchase(ctx context.Context, req domain.PurchaseReceiveRequest) (domain.StockAdjustResponse, error) {
	actor := s.actor(ctx)
	branchID := s.branchOr(req.BranchID, actor)
	if strings.TrimSpace(req.VariantID) == "" {
		return domain.StockAdjustResponse{}, store.ErrInvalidTransaction
	}
	if !req.Qty.IsPositive() || req.UnitCost.IsNegative() {
		return domain.StockAdjustResponse{}, store.ErrInvalidAmount
	}
	variant, err := s.repo.GetVariant(ctx, req.VariantID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = xid.New("purchase")
	}

	var (
		movement domain.InventoryMovement
		newCost  decimal.Decimal
	)
	err = s.withLock(ctx, costLockKey(variant.ID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			current, err := tx.GetVariant(ctx, variant.ID)
			if err != nil {
				return err
			}
			onHand, err := tx.TotalOnHand(ctx, variant.ID)
			if err != nil {
				return err
			}
			movement, err = s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
				BranchID:  branchID,
				VariantID: variant.ID,
				UserID:    actor.UserID,
				Type:      domain.MovementPurchaseIn,
				QtyChange: req.Qty,
				Reference: reference,
			})
			if err != nil {
				return err
			}
			newCost = weightedAverageCost(current.Cost, onHand, req.UnitCost, req.Qty)
			return tx.UpdateVariantCost(ctx, variant.ID, newCost)
		})
	})
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	s.invalidateSKU(ctx, variant.SKU)

	s.logAudit(ctx, branchID, "purchase_receive", "variant", variant.ID,
		fmt.Sprintf("sku=%s,qty=%s,unit_cost=%s,new_cost=%s,ref=%s", variant.SKU, req.Qty, req.UnitCost, newCost, reference))

	return domain.StockAdjustResponse{NewQty: movement.QtyAfter, Movement: movement}, nil
}

// TransferStock moves quantity between branches as a TRANSFER_OUT and a
// TRANSFER_IN sharing one reference. Both stock rows are locked in key order
// before either movement is written.
func (s *Service) TransferStock(ctx context.Context, req domain.StockTransferRequest) (domain.StockTransferResponse, error) {
	actor := s.actor(ctx)
	from := s.branchOr(req.FromBranchID, actor)
	to := strings.TrimSpace(req.ToBranchID)
	if to == "" || from == to || strings.TrimSpace(req.VariantID) == "" {
		return domain.StockTransferResponse{}, store.ErrInvalidTransaction
	}
	if !req.Qty.IsPositive() {
		return domain.StockTransferResponse{}, store.ErrInvalidAmount
	}
	variant, err := s.repo.GetVariant(ctx, req.VariantID)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}

	reference := xid.New("transfer")
	notes := strings.TrimSpace(req.Notes)
	var out, in domain.InventoryMovement
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		if _, err := tx.LockStock(ctx, first, variant.ID); err != nil {
			return err
		}
		if _, err := tx.LockStock(ctx, second, variant.ID); err != nil {
			return err
		}

		var err error
		out, err = s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID:  from,
			VariantID: variant.ID,
			UserID:    actor.UserID,
			Type:      domain.MovementTransferOut,
			QtyChange: req.Qty.Neg(),
			Reference: reference,
			Notes:     notes,
		})
		if err != nil {
			return withSKU(err, variant.SKU)
		}
		in, err = s.ledger.RecordMovement(ctx, tx, domain.MovementInput{
			BranchID:  to,
			VariantID: variant.ID,
			UserID:    actor.UserID,
			Type:      domain.MovementTransferIn,
			QtyChange: req.Qty,
			Reference: reference,
			Notes:     notes,
		})
		return err
	})
	if err != nil {
		return domain.StockTransferResponse{}, err
	}

	s.logAudit(ctx, from, "stock_transfer", "variant", variant.ID, fmt.Sprintf("sku=%s,qty=%s,to=%s,ref=%s", variant.SKU, req.Qty, to, reference))

	return domain.StockTransferResponse{Reference: reference, Out: out, In: in}, nil
}

// GetKardex lists movements newest first.
func (s *Service) GetKardex(ctx context.Context, branchID string, variantID string, limit int, offset int) ([]domain.InventoryMovement, error) {
	branchID = s.branchOr(branchID, s.actor(ctx))
	if strings.TrimSpace(variantID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if limit < 1 {
		limit = defaultKardexLimit
	}
	if limit > maxKardexLimit {
		limit = maxKardexLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMovements(ctx, branchID, variantID, limit, offset)
}

func (s *Service) GetOnHand(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	branchID = s.branchOr(branchID, s.actor(ctx))
	if strings.TrimSpace(variantID) == "" {
		return decimal.Zero, store.ErrInvalidTransaction
	}
	return s.repo.GetOnHand(ctx, branchID, variantID)
}
