package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

// OpenCashSession opens a drawer session for the caller. Admins may open one
// on behalf of another user.
func (s *Service) OpenCashSession(ctx context.Context, req domain.CashSessionOpenRequest) (domain.CashSession, error) {
	actor := s.actor(ctx)
	userID := actor.UserID
	if requested := strings.TrimSpace(req.UserID); requested != "" && requested != userID {
		if actor.Role != domain.RoleAdmin {
			return domain.CashSession{}, store.ErrInvalidTransaction
		}
		userID = requested
	}
	if req.OpeningBalance.IsNegative() {
		return domain.CashSession{}, store.ErrInvalidAmount
	}

	session := domain.CashSession{
		ID:             xid.New("cash"),
		BranchID:       s.branchOr(req.BranchID, actor),
		UserID:         userID,
		Status:         domain.CashSessionOpen,
		OpeningBalance: req.OpeningBalance,
		TotalCashSales: decimal.Zero,
		TotalIn:        decimal.Zero,
		TotalOut:       decimal.Zero,
		ExpectedAmount: req.OpeningBalance,
		Difference:     decimal.Zero,
		OpenedAt:       time.Now().UTC(),
	}

	err := s.withLock(ctx, cashLockKey(userID), func() error {
		if _, err := s.repo.GetOpenCashSession(ctx, userID); err == nil {
			return store.ErrSessionAlreadyOpen
		} else if !errors.Is(err, store.ErrNoOpenSession) {
			return err
		}
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertCashSession(ctx, session)
		})
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	s.logAudit(ctx, session.BranchID, "cash_open", "cash_session", session.ID, fmt.Sprintf("user=%s,opening=%s", userID, session.OpeningBalance))
	return session, nil
}

func (s *Service) RegisterCashMovement(ctx context.Context, sessionID string, req domain.CashMovementRequest) (domain.CashMovement, error) {
	actor := s.actor(ctx)
	movementType, err := domain.ParseCashMovementType(string(req.Type))
	if err != nil {
		return domain.CashMovement{}, store.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.CashMovement{}, store.ErrInvalidTransaction
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovement{}, store.ErrInvalidAmount
	}

	session, err := s.ownedCashSession(ctx, actor, sessionID)
	if err != nil {
		return domain.CashMovement{}, err
	}

	movement := domain.CashMovement{
		ID:        xid.New("cashmov"),
		SessionID: session.ID,
		Type:      movementType,
		Amount:    req.Amount,
		Reason:    reason,
		CreatedBy: actor.UserID,
		CreatedAt: time.Now().UTC(),
	}
	err = s.withLock(ctx, cashLockKey(session.UserID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockCashSession(ctx, session.ID)
			if err != nil {
				return err
			}
			if locked.Status != domain.CashSessionOpen {
				return store.ErrNoOpenSession
			}
			return tx.InsertCashMovement(ctx, movement)
		})
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, session.BranchID, "cash_movement", "cash_session", session.ID, fmt.Sprintf("type=%s,amount=%s,reason=%s", movementType, req.Amount, reason))
	return movement, nil
}

// CloseCashSession reconciles the drawer. The session goes OPEN to CLOSED
// exactly once; closing it again fails with ErrNoOpenSession.
func (s *Service) CloseCashSession(ctx context.Context, sessionID string, req domain.CashSessionCloseRequest) (domain.CashSessionCloseResponse, error) {
	if req.CountedAmount.IsNegative() {
		return domain.CashSessionCloseResponse{}, store.ErrInvalidAmount
	}
	session, err := s.ownedCashSession(ctx, s.actor(ctx), sessionID)
	if err != nil {
		return domain.CashSessionCloseResponse{}, err
	}

	var closed domain.CashSession
	err = s.withLock(ctx, cashLockKey(session.UserID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockCashSession(ctx, session.ID)
			if err != nil {
				return err
			}
			if locked.Status != domain.CashSessionOpen {
				return store.ErrNoOpenSession
			}
			summary, err := summarizeCash(ctx, tx, *locked)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			counted := req.CountedAmount
			closed = *locked
			closed.Status = domain.CashSessionClosed
			closed.ClosingBalance = &counted
			closed.TotalCashSales = summary.CashSales
			closed.TotalIn = summary.Inflows
			closed.TotalOut = summary.Outflows
			closed.ExpectedAmount = summary.Expected
			closed.Difference = counted.Sub(summary.Expected)
			closed.Notes = strings.TrimSpace(req.Notes)
			closed.ClosedAt = &now
			return tx.UpdateCashSession(ctx, closed)
		})
	})
	if err != nil {
		return domain.CashSessionCloseResponse{}, err
	}

	s.logAudit(ctx, closed.BranchID, "cash_close", "cash_session", closed.ID,
		fmt.Sprintf("expected=%s,counted=%s,difference=%s", closed.ExpectedAmount, req.CountedAmount, closed.Difference))

	return domain.CashSessionCloseResponse{
		Expected:   closed.ExpectedAmount,
		Reported:   req.CountedAmount,
		Difference: closed.Difference,
		Session:    closed,
	}, nil
}

// CashSessionSummary projects the expected drawer amount without closing.
func (s *Service) CashSessionSummary(ctx context.Context, sessionID string) (domain.CashSummary, error) {
	session, err := s.ownedCashSession(ctx, s.actor(ctx), sessionID)
	if err != nil {
		return domain.CashSummary{}, err
	}
	if session.Status != domain.CashSessionOpen {
		return domain.CashSummary{
			SessionID:      session.ID,
			OpeningBalance: session.OpeningBalance,
			CashSales:      session.TotalCashSales,
			Inflows:        session.TotalIn,
			Outflows:       session.TotalOut,
			Expected:       session.ExpectedAmount,
		}, nil
	}
	return summarizeCash(ctx, s.repo, *session)
}

// CashSessionStatus returns the caller's open session.
func (s *Service) CashSessionStatus(ctx context.Context) (domain.CashSession, error) {
	actor := s.actor(ctx)
	session, err := s.repo.GetOpenCashSession(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return domain.CashSession{}, store.ErrNotFound
		}
		return domain.CashSession{}, err
	}
	return *session, nil
}

// ownedCashSession loads a session the actor may operate on. Cashiers only
// see their own drawer; someone else's session reads as not found.
func (s *Service) ownedCashSession(ctx context.Context, actor domain.Actor, sessionID string) (*domain.CashSession, error) {
	session, err := s.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && session.UserID != actor.UserID {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// summarizeCash computes expected = opening + cash payments taken by the
// session user since opening + inflows - outflows.
func summarizeCash(ctx context.Context, r store.Reader, session domain.CashSession) (domain.CashSummary, error) {
	cashSales, err := r.SumCashPayments(ctx, session.UserID, session.OpenedAt)
	if err != nil {
		return domain.CashSummary{}, err
	}
	in, out, err := r.SumCashMovements(ctx, session.ID)
	if err != nil {
		return domain.CashSummary{}, err
	}
	return domain.CashSummary{
		SessionID:      session.ID,
		OpeningBalance: session.OpeningBalance,
		CashSales:      cashSales,
		Inflows:        in,
		Outflows:       out,
		Expected:       session.OpeningBalance.Add(cashSales).Add(in).Sub(out),
	}, nil
}
