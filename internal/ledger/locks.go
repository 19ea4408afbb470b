package ledger

import "sync"

// accountLocks hands out one mutex per username. Holding the mutex for
// the duration of an operation serializes all check-then-act sequences
// on the same account; operations on different accounts stay concurrent.
// Locks are never discarded, so the map grows with the number of
// distinct accounts touched, which is bounded by the accounts table.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for username and returns it so the caller can
// defer its release.
func (a *accountLocks) acquire(username string) *sync.Mutex {
	a.mu.Lock()
	m, ok := a.locks[username]
	if !ok {
		m = &sync.Mutex{}
		a.locks[username] = m
	}
	a.mu.Unlock()

	m.Lock()
	return m
}
