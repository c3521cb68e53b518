package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

// RebuildStockOnHand recomputes the on-hand cache of one (branch, variant)
// from its movements. Drift is the cached value minus the ledger value.
func (s *Service) RebuildStockOnHand(ctx context.Context, branchID string, variantID string) (domain.RebuildResult, error) {
	branchID = s.branchOr(branchID, s.actor(ctx))
	if strings.TrimSpace(variantID) == "" {
		return domain.RebuildResult{}, store.ErrInvalidTransaction
	}

	var result domain.RebuildResult
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = rebuildStockRow(ctx, tx, branchID, variantID)
		return err
	})
	if err != nil {
		return domain.RebuildResult{}, err
	}

	if !result.Drift.IsZero() {
		s.logAudit(ctx, branchID, "stock_rebuild", "variant", variantID, fmt.Sprintf("before=%s,after=%s", result.Before, result.After))
	}
	return result, nil
}

// RebuildBranchStock rebuilds every stock row of a branch, one unit of work
// per row so a long rebuild does not hold every lock at once.
func (s *Service) RebuildBranchStock(ctx context.Context, branchID string) ([]domain.RebuildResult, error) {
	branchID = s.branchOr(branchID, s.actor(ctx))
	variantIDs, err := s.repo.ListStockKeys(ctx, branchID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RebuildResult, 0, len(variantIDs))
	for _, variantID := range variantIDs {
		result, err := s.RebuildStockOnHand(ctx, branchID, variantID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func rebuildStockRow(ctx context.Context, tx store.Tx, branchID string, variantID string) (domain.RebuildResult, error) {
	row, err := tx.LockStock(ctx, branchID, variantID)
	if err != nil {
		return domain.RebuildResult{}, err
	}
	sum, err := tx.SumMovements(ctx, branchID, variantID)
	if err != nil {
		return domain.RebuildResult{}, err
	}
	if !sum.Equal(row.Qty) {
		if err := tx.SetStock(ctx, branchID, variantID, sum, time.Now().UTC()); err != nil {
			return domain.RebuildResult{}, err
		}
	}
	return domain.RebuildResult{
		Key:    branchID + "/" + variantID,
		Before: row.Qty,
		After:  sum,
		Drift:  row.Qty.Sub(sum),
	}, nil
}

// RebuildCustomerBalance recomputes the cached balance from the ledger.
func (s *Service) RebuildCustomerBalance(ctx context.Context, customerID string) (domain.RebuildResult, error) {
	var result domain.RebuildResult
	err := s.withLock(ctx, customerLockKey(customerID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			customer, err := tx.LockCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			sum, err := tx.SumLedger(ctx, customer.ID)
			if err != nil {
				return err
			}
			if !sum.Equal(customer.CurrentBalance) {
				if err := tx.SetCustomerBalance(ctx, customer.ID, sum); err != nil {
					return err
				}
			}
			result = domain.RebuildResult{
				Key:    customer.ID,
				Before: customer.CurrentBalance,
				After:  sum,
				Drift:  customer.CurrentBalance.Sub(sum),
			}
			return nil
		})
	})
	if err != nil {
		return domain.RebuildResult{}, err
	}

	if !result.Drift.IsZero() {
		s.logAudit(ctx, "", "customer_balance_rebuild", "customer", customerID, fmt.Sprintf("before=%s,after=%s", result.Before, result.After))
	}
	return result, nil
}
