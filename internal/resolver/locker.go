package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker serializes work per key across all tasks in the process. Entries
// exist only while some caller holds or waits for the key.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocker creates an empty locker
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

func (l *Locker) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// TryLock acquires key without waiting
func (l *Locker) TryLock(key string) bool {
	e := l.ref(key)
	if e.sem.TryAcquire(1) {
		return true
	}
	l.unref(key, e)
	return false
}

// Lock waits for key until ctx is done
func (l *Locker) Lock(ctx context.Context, key string) error {
	e := l.ref(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, e)
		return err
	}
	return nil
}

// Unlock releases key. Unlocking a key that is not held panics.
func (l *Locker) Unlock(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	l.mu.Unlock()
	if !ok {
		panic("resolver: unlock of unlocked key " + key)
	}
	e.sem.Release(1)
	l.unref(key, e)
}

// Len returns the number of keys currently held or awaited
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
