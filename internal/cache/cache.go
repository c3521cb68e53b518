package cache

import (
	"context"
	"time"

	"tiendapos/backend/internal/domain"
)

// CatalogCache memoizes SKU lookups (variant plus price tiers). Entries are
// dropped on every catalog write, so readers never see tiers older than the
// last successful write plus the TTL.
type CatalogCache interface {
	Get(ctx context.Context, sku string) (*domain.CatalogEntry, bool, error)
	Set(ctx context.Context, sku string, value *domain.CatalogEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, sku string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.CatalogEntry, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *domain.CatalogEntry, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
