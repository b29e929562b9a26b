// Package lease provides short-lived per-bot locks that prevent the
// same bot from being dispatched twice when sweeps overlap.
package lease

import (
	"context"
	"sync"
	"time"
)

// Lease grants at most one holder per bot at a time. Acquire is
// non-blocking: it reports false when another holder has the lease.
type Lease interface {
	// Acquire attempts to take the lease for a bot for ttl
	Acquire(ctx context.Context, botID string, ttl time.Duration) (bool, error)

	// Release gives the lease back before its ttl expires
	Release(ctx context.Context, botID string) error
}

// MemoryLease implements Lease in process memory, for single-instance
// deployments and tests
type MemoryLease struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryLease creates an in-process lease
func NewMemoryLease() *MemoryLease {
	return &MemoryLease{
		expires: make(map[string]time.Time),
	}
}

// Acquire attempts to take the lease for a bot for ttl
func (l *MemoryLease) Acquire(ctx context.Context, botID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, ok := l.expires[botID]; ok && until.After(now) {
		return false, nil
	}

	l.expires[botID] = now.Add(ttl)
	return true, nil
}

// Release gives the lease back before its ttl expires
func (l *MemoryLease) Release(ctx context.Context, botID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.expires, botID)
	return nil
}
