package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tiendapos/backend/internal/domain"
)

const catalogKeyPrefix = "catalog:sku:"

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Get(ctx context.Context, sku string) (*domain.CatalogEntry, bool, error) {
	val, err := c.client.Get(ctx, catalogKey(sku)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry domain.CatalogEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, sku string, value *domain.CatalogEntry, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKey(sku), payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, sku string) error {
	return c.client.Del(ctx, catalogKey(sku)).Err()
}

func catalogKey(sku string) string {
	return catalogKeyPrefix + strings.ToUpper(strings.TrimSpace(sku))
}
