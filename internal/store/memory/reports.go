package memory

import (
	"context"
	"sort"
	"time"

	"tiendapos/backend/internal/domain"
)

func (s *Store) ListDebtors(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debtors := make([]domain.Customer, 0)
	for _, c := range s.st.customers {
		if c.CurrentBalance.IsPositive() {
			debtors = append(debtors, c)
		}
	}
	sort.Slice(debtors, func(i, j int) bool { return debtors[i].Name < debtors[j].Name })
	return debtors, nil
}

func (s *Store) ListCustomerLedger(_ context.Context, customerID string) ([]domain.CustomerLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CustomerLedgerEntry, 0)
	for _, e := range s.st.ledger {
		if e.CustomerID == customerID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (s *Store) ListCashDiscrepancies(_ context.Context, branchID string, limit int) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]domain.CashSession, 0)
	for _, session := range s.st.sessions {
		if session.Status != domain.CashSessionClosed || session.Difference.IsZero() || session.ClosedAt == nil {
			continue
		}
		if branchID != "" && session.BranchID != branchID {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].ClosedAt.Equal(*sessions[j].ClosedAt) {
			return sessions[i].ClosedAt.After(*sessions[j].ClosedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *Store) ListSalesDocuments(_ context.Context, branchID string, from time.Time, to time.Time) ([]domain.SalesDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.SalesDocument, 0)
	for _, doc := range s.st.documents {
		if doc.BranchID != branchID || doc.CreatedAt.Before(from) || !doc.CreatedAt.Before(to) {
			continue
		}
		docs = append(docs, cloneDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *Store) ListDocumentPayments(_ context.Context, branchID string, from time.Time, to time.Time) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0)
	for _, p := range s.st.payments {
		doc, ok := s.st.documents[p.DocumentID]
		if !ok || doc.BranchID != branchID {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		payments = append(payments, p)
	}
	return payments, nil
}
