package refresh

import (
	"sync"

	"example.com/biometrics/internal/domain"
)

// dateLocks serialises writers of the same date while letting different dates
// proceed independently. Entries are dropped once no goroutine holds or waits
// on them.
type dateLocks struct {
	mu      sync.Mutex
	entries map[domain.DateKey]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

func newDateLocks() *dateLocks {
	return &dateLocks{entries: make(map[domain.DateKey]*dateLock)}
}

// lock blocks until the date is free and returns the matching unlock.
func (l *dateLocks) lock(date domain.DateKey) func() {
	l.mu.Lock()
	entry, ok := l.entries[date]
	if !ok {
		entry = &dateLock{}
		l.entries[date] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, date)
		}
		l.mu.Unlock()
	}
}
