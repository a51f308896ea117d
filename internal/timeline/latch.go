package timeline

import "sync"

// Latch is a resettable one-shot. Do runs its function at most once until
// Reset; concurrent callers block until the running call finishes and then
// observe its outcome. A failed run leaves the latch open so a later call can
// retry.
//
// The zero value is an open latch. Reset is the teardown counterpart used by
// Store.Reset.
type Latch struct {
	mu   sync.Mutex
	done bool
}

// Do runs fn unless the latch is already closed. ran reports whether fn was
// invoked; err is fn's error.
func (l *Latch) Do(fn func() error) (ran bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return false, nil
	}
	if err := fn(); err != nil {
		return true, err
	}
	l.done = true
	return true, nil
}

// Done reports whether a Do call has succeeded since the last Reset.
func (l *Latch) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Reset reopens the latch.
func (l *Latch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = false
}
