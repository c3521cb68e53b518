package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"tiendapos/backend/internal/cache"
)

func TestLocalLockerRejectsSecondHolder(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	lease, err := locker.Obtain(ctx, "cash-session:u1", time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, "cash-session:u1", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if _, err := locker.Obtain(ctx, "cash-session:u2", time.Minute); err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := locker.Obtain(ctx, "cash-session:u1", time.Minute); err != nil {
		t.Fatalf("expected key to be free after release, got %v", err)
	}
}

func TestLocalLockerExpiredLeaseIsReplaced(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	stale, err := locker.Obtain(ctx, "customer:c1", time.Millisecond)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := locker.Obtain(ctx, "customer:c1", time.Minute); err != nil {
		t.Fatalf("expected expired lease to be replaced, got %v", err)
	}
	// Releasing the stale lease must not free the new holder's key.
	_ = stale.Release(ctx)
	if _, err := locker.Obtain(ctx, "customer:c1", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected new holder to keep the key, got %v", err)
	}
}

func TestRedisLockerIntegration(t *testing.T) {
	addr := os.Getenv("TIENDAPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TIENDAPOS_TEST_REDIS_ADDR to run redis lock integration test")
	}

	ctx := context.Background()
	client := cache.NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	if err := cache.Ping(ctx, client); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	locker := NewRedisLocker(client)
	key := "it:" + time.Now().Format(time.RFC3339Nano)
	lease, err := locker.Obtain(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, key, 5*time.Second); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}
