package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient returns a client shared by the catalog cache and the
// distributed locker.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
