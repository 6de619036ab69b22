package locking

import "errors"

// ErrLockBusy is returned by non-blocking groups when another holder owns
// the key. fn is not run in that case.
var ErrLockBusy = errors.New("lock held by another owner")

// locking.Group is an abstraction for running functions with mutual exclusion
// over sets of keys.
type Group interface {
	// DoWithLock runs the given function with mutual exclusion over the given key.
	DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error)
}
