package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type NoopLocker struct{}

func (NoopLocker) Obtain(_ context.Context, _ string, _ time.Duration) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(_ context.Context) error {
	return nil
}

// LocalLocker is a process-local locker. It fails fast instead of waiting,
// matching the redis implementation with no retry strategy.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiresAt, ok := l.held[key]; ok && now.Before(expiresAt) {
		return nil, ErrNotObtained
	}
	l.held[key] = now.Add(ttl)
	return &localLease{owner: l, key: key, expiresAt: now.Add(ttl)}, nil
}

type localLease struct {
	owner     *LocalLocker
	key       string
	expiresAt time.Time
}

func (l *localLease) Release(_ context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if current, ok := l.owner.held[l.key]; ok && current.Equal(l.expiresAt) {
		delete(l.owner.held, l.key)
	}
	return nil
}
