package storage

import (
	"log/slog"
	"sync"
)

// LockManager manages fine-grained locks keyed by entity ID. The store keys
// it by listing so claims against the same listing serialize while claims
// against different listings proceed independently; the fulfillment engine
// keys a second instance by order.
type LockManager struct {
	locks    map[string]*sync.Mutex
	locksMux sync.RWMutex
}

// NewLockManager creates a new keyed lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// getLock returns the mutex for the given key, creating it on first use
func (lm *LockManager) getLock(key string) *sync.Mutex {
	lm.locksMux.RLock()
	if lock, exists := lm.locks[key]; exists {
		lm.locksMux.RUnlock()
		return lock
	}
	lm.locksMux.RUnlock()

	lm.locksMux.Lock()
	defer lm.locksMux.Unlock()

	// Double-check in case another goroutine created it
	if lock, exists := lm.locks[key]; exists {
		return lock
	}

	newLock := &sync.Mutex{}
	lm.locks[key] = newLock

	slog.Debug("Created new entity lock", "key", key)
	return newLock
}

// WithLock executes fn while holding the key's lock
func (lm *LockManager) WithLock(key string, fn func()) {
	lock := lm.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	fn()
}

// LockCount returns the number of locks currently tracked
func (lm *LockManager) LockCount() int {
	lm.locksMux.RLock()
	defer lm.locksMux.RUnlock()
	return len(lm.locks)
}
