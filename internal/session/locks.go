package session

import "sync"

// UserLocks serializes mutation of a user's session across callers. The
// dispatcher and the admin surface share one instance so their writes to the
// same *UserSession never interleave; different users proceed in parallel.
type UserLocks struct {
	locks sync.Map // userID -> *sync.Mutex
}

// NewUserLocks creates an empty lock table.
func NewUserLocks() *UserLocks { return &UserLocks{} }

// Lock acquires the lock for userID and returns the release function.
func (l *UserLocks) Lock(userID string) (unlock func()) {
	v, _ := l.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
