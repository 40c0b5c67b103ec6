package lock

import "github.com/moby/locker"

// Locker is an advisory, in-process lock keyed by resource name (a compose
// document path or a group file path). Every load-mutate-persist cycle on a
// shared file holds the key for its whole duration.
type Locker struct {
	named *locker.Locker
}

func New() *Locker {
	return &Locker{named: locker.New()}
}

// Acquire blocks until key is free and returns the release func.
func (l *Locker) Acquire(key string) func() {
	if l == nil {
		return func() {}
	}
	l.named.Lock(key)
	return func() {
		_ = l.named.Unlock(key)
	}
}
