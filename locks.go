package latch

import (
	"sync"

	"github.com/xraph/latch/id"
)

// accountLocks serializes evaluation and mutation per account. Entries are
// reference counted and dropped when no goroutine holds or waits on them.
type accountLocks struct {
	mu sync.Mutex
	m  map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func (l *accountLocks) lock(accountID id.AccountID) (unlock func()) {
	key := accountID.String()

	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*accountLock)
	}
	al := l.m[key]
	if al == nil {
		al = &accountLock{}
		l.m[key] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
