/**
 * @description
 * Keyed mutual exclusion for campaign and disbursement mutations. Two
 * implementations are provided: an in-process locker for single-instance
 * deployments and tests, and a Redis-backed distributed locker for running
 * several replicas against the same database.
 *
 * @notes
 * - Callers that need both a disbursement and its campaign must take the
 *   disbursement key first (see DisbursementKey/CampaignKey) to avoid deadlocks.
 */

package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CampaignKey is the lock key serializing balance mutation on one campaign.
func CampaignKey(id uuid.UUID) string { return "campaign:" + id.String() }

// DisbursementKey is the lock key serializing transitions of one disbursement.
func DisbursementKey(id uuid.UUID) string { return "disbursement:" + id.String() }

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is an in-process Locker. Entries are reference counted so idle keys do
// not accumulate.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*keyedEntry)}
}

func (l *MemoryLocker) acquireEntry(key string) *keyedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) releaseEntry(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// WithLock waits for key until ctx is done.
func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireEntry(key)
	defer l.releaseEntry(key, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}
