package locking

import "sync"

// MemLock is a Group implementation that uses in-memory locks (mutexes) for mutual
// exclusion. It only works within a single process and doesn't coordinate
// with other processes sharing the same local cache root. It's used primarily
// in tests.
type MemLock struct {
	sync.Mutex
	locks map[string]*memEntry
}

type memEntry struct {
	mu   sync.Mutex
	refs int
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*memEntry),
	}
}

func (s *MemLock) DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error) {
	s.Lock()
	entry, ok := s.locks[key]
	if !ok {
		entry = &memEntry{}
		s.locks[key] = entry
	}
	entry.refs++
	s.Unlock()

	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		s.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, key)
		}
		s.Unlock()
	}()
	return fn()
}
