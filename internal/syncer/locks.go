// Package syncer coordinates per-tenant catalog refresh cycles.
package syncer

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// TenantLocks serializes sync work per tenant. Locks are created lazily
// on first use and held for the process lifetime; concurrent syncs for
// different tenants never block each other.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (t *TenantLocks) lockFor(tenantID snowflake.ID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[tenantID] = l
	}
	return l
}

// WithLock runs fn while holding the tenant's lock, blocking until it
// becomes available.
func (t *TenantLocks) WithLock(tenantID snowflake.ID, fn func() error) error {
	l := t.lockFor(tenantID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// TryWithLock runs fn only if the tenant's lock is free, returning false
// without running fn when another sync is already in flight. Background
// refresh uses it so overlapping ticks skip instead of queueing.
func (t *TenantLocks) TryWithLock(tenantID snowflake.ID, fn func() error) (bool, error) {
	l := t.lockFor(tenantID)
	if !l.TryLock() {
		return false, nil
	}
	defer l.Unlock()
	return true, fn()
}
