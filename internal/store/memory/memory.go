package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
)

const DefaultBranchID = "main-branch"

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*memTx)(nil)
)

type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products       map[string]domain.Product
	variants       map[string]domain.Variant
	variantBySKU   map[string]string
	tiers          map[string][]domain.PriceTier
	stock          map[string]domain.StockOnHand
	movements      []domain.InventoryMovement
	folios         map[string]int64
	documents      map[string]domain.SalesDocument
	issuedFolios   map[string]string
	payments       []domain.Payment
	customers      map[string]domain.Customer
	ledger         []domain.CustomerLedgerEntry
	sessions       map[string]domain.CashSession
	openSessionFor map[string]string
	cashMovements  []domain.CashMovement
	auditLogs      []domain.AuditLog
	users          map[string]domain.UserAccount
}

func New() *Store {
	return &Store{st: &state{
		products:       make(map[string]domain.Product),
		variants:       make(map[string]domain.Variant),
		variantBySKU:   make(map[string]string),
		tiers:          make(map[string][]domain.PriceTier),
		stock:          make(map[string]domain.StockOnHand),
		movements:      make([]domain.InventoryMovement, 0, 256),
		folios:         make(map[string]int64),
		documents:      make(map[string]domain.SalesDocument),
		issuedFolios:   make(map[string]string),
		payments:       make([]domain.Payment, 0, 128),
		customers:      make(map[string]domain.Customer),
		ledger:         make([]domain.CustomerLedgerEntry, 0, 128),
		sessions:       make(map[string]domain.CashSession),
		openSessionFor: make(map[string]string),
		cashMovements:  make([]domain.CashMovement, 0, 64),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		users:          make(map[string]domain.UserAccount),
	}}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{"user-admin", "admin", adminPwd, domain.RoleAdmin},
		{"user-cashier", "cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logrus.WithField("module", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  DefaultBranchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small grocery catalog, opening stock
// booked through PURCHASE_IN movements, and two customers.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	type seedVariant struct {
		id, sku, name string
		price, cost   string
		qty           int64
		isDefault     bool
	}
	catalog := []struct {
		product  domain.Product
		variants []seedVariant
	}{
		{domain.Product{ID: "prod-coca", Name: "Coca-Cola"}, []seedVariant{
			{"var-coca600", "COCA600", "Coca-Cola 600ml", "18", "12.50", 10, true},
		}},
		{domain.Product{ID: "prod-agua", Name: "Agua purificada"}, []seedVariant{
			{"var-agua1l", "AGUA1L", "Agua purificada 1L", "10", "6", 100, true},
		}},
		{domain.Product{ID: "prod-cafe", Name: "Cafe molido"}, []seedVariant{
			{"var-cafe500", "CAFE500", "Cafe molido 500g", "120", "80", 20, false},
			{"var-cafe250", "CAFE250", "Cafe molido 250g", "65", "42", 20, true},
		}},
		{domain.Product{ID: "prod-pan", Name: "Pan blanco"}, []seedVariant{
			{"var-panbco", "PANBCO", "Pan blanco grande", "35", "20", 40, true},
		}},
		{domain.Product{ID: "prod-arroz", Name: "Arroz"}, []seedVariant{
			{"var-arroz1k", "ARROZ1K", "Arroz 1kg", "28", "19", 60, true},
		}},
	}

	for _, item := range catalog {
		product := item.product
		product.Active = true
		product.CreatedAt = now
		for _, v := range item.variants {
			variant := domain.Variant{
				ID:        v.id,
				ProductID: product.ID,
				SKU:       v.sku,
				Name:      v.name,
				Price:     decimal.RequireFromString(v.price),
				Cost:      decimal.RequireFromString(v.cost),
				Active:    true,
			}
			s.st.variants[variant.ID] = variant
			s.st.variantBySKU[variant.SKU] = variant.ID
			if v.isDefault {
				product.DefaultVariantID = variant.ID
			}
			s.st.seedStock(DefaultBranchID, variant.ID, decimal.NewFromInt(v.qty), now)
		}
		s.st.products[product.ID] = product
	}

	s.st.tiers["var-agua1l"] = []domain.PriceTier{
		{VariantID: "var-agua1l", Name: "menudeo", MinQuantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10)},
		{VariantID: "var-agua1l", Name: "medio mayoreo", MinQuantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(9)},
		{VariantID: "var-agua1l", Name: "mayoreo", MinQuantity: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(8)},
	}

	s.st.customers["cust-lupita"] = domain.Customer{
		ID:          "cust-lupita",
		Name:        "Abarrotes Lupita",
		HasCredit:   true,
		CreditLimit: decimal.NewFromInt(1000),
		CreditDays:  15,
		Active:      true,
		CreatedAt:   now,
	}
	s.st.customers["cust-general"] = domain.Customer{
		ID:        "cust-general",
		Name:      "Publico en general",
		Active:    true,
		CreatedAt: now,
	}
	opening := decimal.NewFromInt(400)
	s.st.ledger = append(s.st.ledger, domain.CustomerLedgerEntry{
		ID:          "ledger-seed-lupita",
		CustomerID:  "cust-lupita",
		Amount:      opening,
		Description: "OPENING BALANCE",
		CreatedAt:   now,
	})
	lupita := s.st.customers["cust-lupita"]
	lupita.CurrentBalance = opening
	s.st.customers["cust-lupita"] = lupita

	s.st.users = seedUsers()
	return s
}

func (st *state) seedStock(branchID string, variantID string, qty decimal.Decimal, at time.Time) {
	key := stockKey(branchID, variantID)
	st.movements = append(st.movements, domain.InventoryMovement{
		ID:        fmt.Sprintf("mov-seed-%s-%s", branchID, variantID),
		BranchID:  branchID,
		VariantID: variantID,
		Type:      domain.MovementPurchaseIn,
		QtyChange: qty,
		QtyBefore: decimal.Zero,
		QtyAfter:  qty,
		Reference: "SEED",
		CreatedAt: at,
	})
	st.stock[key] = domain.StockOnHand{BranchID: branchID, VariantID: variantID, Qty: qty, UpdatedAt: at}
}

// WithinTx serializes units of work behind the store's write lock. Writes go
// straight to the live maps and are reverted from the undo log if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.st}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(tx)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetProduct(ctx, id)
}

func (s *Store) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetVariant(ctx, id)
}

func (s *Store) GetVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetVariantBySKU(ctx, sku)
}

func (s *Store) ListPriceTiers(ctx context.Context, variantID string) ([]domain.PriceTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListPriceTiers(ctx, variantID)
}

func (s *Store) GetOnHand(ctx context.Context, branchID string, variantID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOnHand(ctx, branchID, variantID)
}

func (s *Store) ListMovements(ctx context.Context, branchID string, variantID string, limit int, offset int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListMovements(ctx, branchID, variantID, limit, offset)
}

func (s *Store) ListStockKeys(ctx context.Context, branchID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListStockKeys(ctx, branchID)
}

func (s *Store) GetSalesDocument(ctx context.Context, id string) (*domain.SalesDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetSalesDocument(ctx, id)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetCustomer(ctx, id)
}

func (s *Store) ListLedgerEntries(ctx context.Context, customerID string, limit int, offset int) ([]domain.CustomerLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListLedgerEntries(ctx, customerID, limit, offset)
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetCashSession(ctx, id)
}

func (s *Store) GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOpenCashSession(ctx, userID)
}

func (s *Store) SumCashPayments(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.SumCashPayments(ctx, userID, since)
}

func (s *Store) SumCashMovements(ctx context.Context, sessionID string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.SumCashMovements(ctx, sessionID)
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, variants []domain.Variant) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" || len(variants) == 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.products[product.ID]; exists {
		return store.ErrInvalidTransaction
	}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if v.ID == "" || v.SKU == "" {
			return store.ErrInvalidTransaction
		}
		if _, taken := s.st.variantBySKU[v.SKU]; taken {
			return store.ErrInvalidTransaction
		}
		if _, dup := seen[v.SKU]; dup {
			return store.ErrInvalidTransaction
		}
		seen[v.SKU] = struct{}{}
	}

	for _, v := range variants {
		v.ProductID = product.ID
		s.st.variants[v.ID] = v
		s.st.variantBySKU[v.SKU] = v.ID
	}
	s.st.products[product.ID] = product
	return nil
}

func (s *Store) ReplacePriceTiers(_ context.Context, variantID string, tiers []domain.PriceTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.variants[variantID]; !ok {
		return store.ErrNotFound
	}
	next := make([]domain.PriceTier, 0, len(tiers))
	for _, tier := range tiers {
		tier.VariantID = variantID
		next = append(next, tier)
	}
	s.st.tiers[variantID] = next
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.ID) == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.customers[customer.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	customer.CurrentBalance = decimal.Zero
	s.st.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.auditLogs = append(s.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.st.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.st.auditLogs[i]
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.users[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	s.st.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.st.users))
	for _, user := range s.st.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.st.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.st.users[username] = user
	return nil
}

func stockKey(branchID string, variantID string) string {
	return branchID + "|" + variantID
}

func folioKey(branchID string, series string) string {
	return branchID + "|" + series
}

func issuedKey(branchID string, series string, folio int64) string {
	return fmt.Sprintf("%s|%s|%d", branchID, series, folio)
}

func cloneDocument(src domain.SalesDocument) domain.SalesDocument {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	dst.Payments = slices.Clone(src.Payments)
	return dst
}
