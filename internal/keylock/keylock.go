// Package keylock provides mutual exclusion scoped to a key. Locks are created
// on first use and released once no goroutine holds or waits for them.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Map is a set of per-key mutexes. The zero value is ready to use.
type Map[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

// Lock waits until the lock for key is held or ctx is done. On success it
// returns the function that releases the lock; otherwise it returns ctx.Err().
func (m *Map[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := m.acquireRef(key)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.releaseRef(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.releaseRef(key, e)
		})
	}, nil
}

func (m *Map[K]) acquireRef(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = make(map[K]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map[K]) releaseRef(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len reports how many keys currently have a holder or waiter.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
