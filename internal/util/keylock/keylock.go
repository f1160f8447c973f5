package keylock

import "sync"

// Registry hands out one mutex per key, creating it on demand and
// releasing it when no goroutine holds or waits for it.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty registry
func New() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// Lock blocks until the mutex for key is held and returns its unlock
// function. Locks are not reentrant.
func (r *Registry) Lock(key string) func() {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Key joins a database name and table into a lock key
func Key(database, table string) string {
	return database + "\x00" + table
}
