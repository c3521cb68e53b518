package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/lock"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultBranchID  string
	FolioMaxAttempts int
	LockTTL          time.Duration
	CatalogTTL       time.Duration
}

type Service struct {
	repo    store.Repository
	catalog cache.CatalogCache
	locker  lock.Locker
	logger  *logrus.Logger
	ledger  StockLedger
	folios  FolioSequencer
	opts    Options
}

func New(repo store.Repository, catalog cache.CatalogCache, locker lock.Locker, logger *logrus.Logger, opts Options) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "main-branch"
	}
	if opts.FolioMaxAttempts < 1 {
		opts.FolioMaxAttempts = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = time.Minute
	}

	return &Service{
		repo:    repo,
		catalog: catalog,
		locker:  locker,
		logger:  logger,
		opts:    opts,
	}
}

// actor returns the authenticated actor, falling back to a system actor on
// the default branch for internal callers.
func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Username: "system", Role: "system"}
	}
	if actor.UserID == "" {
		actor.UserID = actor.Username
	}
	if actor.BranchID == "" {
		actor.BranchID = s.opts.DefaultBranchID
	}
	return actor
}

func (s *Service) branchOr(branchID string, actor domain.Actor) string {
	if branchID = strings.TrimSpace(branchID); branchID != "" {
		return branchID
	}
	return actor.BranchID
}

// withLock runs fn while holding the distributed lock for key. Contention is
// reported as a concurrency conflict rather than waited out.
func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	lease, err := s.locker.Obtain(ctx, key, s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return fmt.Errorf("%w: %s is busy", store.ErrConcurrencyConflict, key)
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithFields(logrus.Fields{"module": "service", "lock": key}).WithError(err).Warn("failed to release lock")
		}
	}()
	return fn()
}

func customerLockKey(customerID string) string {
	return "customer:" + customerID
}

func cashLockKey(userID string) string {
	return "cash-session:" + userID
}

func costLockKey(variantID string) string {
	return "variant-cost:" + variantID
}

func (s *Service) GetSalesDocument(ctx context.Context, id string) (domain.SalesDocument, error) {
	if strings.TrimSpace(id) == "" {
		return domain.SalesDocument{}, store.ErrInvalidTransaction
	}
	doc, err := s.repo.GetSalesDocument(ctx, id)
	if err != nil {
		return domain.SalesDocument{}, err
	}
	return *doc, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, strings.TrimSpace(branchID), from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)
	if branchID == "" {
		branchID = actor.BranchID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module": "service",
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
