package ws

import "sync"

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// roomLocks hands out one mutex per conversation, dropping it once unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

func (l *roomLocks) acquire(conversationID string) *roomLock {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*roomLock)
	}
	lk, ok := l.locks[conversationID]
	if !ok {
		lk = &roomLock{}
		l.locks[conversationID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return lk
}

func (l *roomLocks) release(conversationID string, lk *roomLock) {
	lk.mu.Unlock()

	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, conversationID)
	}
	l.mu.Unlock()
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
