package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 500
)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.CreditDays < 0 {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	if req.CreditLimit.IsNegative() {
		return domain.Customer{}, store.ErrInvalidAmount
	}
	limit := req.CreditLimit
	if !req.HasCredit {
		limit = decimal.Zero
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:             xid.New("cust"),
		Name:           name,
		HasCredit:      req.HasCredit,
		CreditLimit:    limit,
		CreditDays:     req.CreditDays,
		CurrentBalance: decimal.Zero,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "", "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,credit=%t,limit=%s", created.Name, created.HasCredit, created.CreditLimit))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// PayCustomerAccount records a payment against the account balance. The
// balance may go negative, which leaves the customer with a credit in favor.
func (s *Service) PayCustomerAccount(ctx context.Context, customerID string, req domain.CustomerPaymentRequest) (domain.CustomerPaymentResponse, error) {
	actor := s.actor(ctx)
	if !req.Amount.IsPositive() {
		return domain.CustomerPaymentResponse{}, store.ErrInvalidAmount
	}
	method, err := domain.ParsePaymentMethod(string(req.Method))
	if err != nil || method == domain.PaymentStoreCredit {
		return domain.CustomerPaymentResponse{}, store.ErrInvalidTransaction
	}
	amount := roundMoney(req.Amount)

	var resp domain.CustomerPaymentResponse
	err = s.withLock(ctx, customerLockKey(customerID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			customer, err := tx.LockCustomer(ctx, customerID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			payment := domain.Payment{
				ID:         xid.New("pay"),
				CustomerID: customer.ID,
				Amount:     amount,
				Method:     method,
				Reference:  strings.TrimSpace(req.Reference),
				CreatedBy:  actor.UserID,
				CreatedAt:  now,
			}
			sessionID, err := openSessionID(ctx, tx, actor.UserID, []domain.PaymentInput{{Method: method, Amount: amount}})
			if err != nil {
				return err
			}
			payment.CashSessionID = sessionID
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}

			if err := tx.InsertLedgerEntry(ctx, domain.CustomerLedgerEntry{
				ID:          xid.New("ledger"),
				CustomerID:  customer.ID,
				Amount:      amount.Neg(),
				Description: "PAYMENT " + string(method),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			newBalance := customer.CurrentBalance.Sub(amount)
			if err := tx.SetCustomerBalance(ctx, customer.ID, newBalance); err != nil {
				return err
			}
			resp = domain.CustomerPaymentResponse{NewBalance: newBalance, PaymentID: payment.ID}
			return nil
		})
	})
	if err != nil {
		return domain.CustomerPaymentResponse{}, err
	}

	s.logAudit(ctx, "", "customer_payment", "customer", customerID, fmt.Sprintf("amount=%s,method=%s,balance=%s", amount, method, resp.NewBalance))
	return resp, nil
}

// GetCustomerStatement lists ledger entries newest first.
func (s *Service) GetCustomerStatement(ctx context.Context, customerID string, limit int, offset int) ([]domain.CustomerLedgerEntry, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultStatementLimit
	}
	if limit > maxStatementLimit {
		limit = maxStatementLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListLedgerEntries(ctx, customerID, limit, offset)
}

// DeactivateCustomer soft-deletes a customer that owes nothing.
func (s *Service) DeactivateCustomer(ctx context.Context, customerID string) error {
	err := s.withLock(ctx, customerLockKey(customerID), func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			customer, err := tx.LockCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			if customer.CurrentBalance.IsPositive() {
				return store.ErrCustomerHasBalance
			}
			return tx.SetCustomerActive(ctx, customer.ID, false)
		})
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "", "customer_deactivate", "customer", customerID, "")
	return nil
}
