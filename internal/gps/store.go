package gps

import "sync"

// FixStore holds the current fix for one receiver. All access copies in or
// out under a single mutex; callers never hold a reference into the store.
type FixStore struct {
	mu  sync.Mutex
	fix Fix
	gen uint64
}

// NewFixStore returns a store holding an invalid, all-zero fix.
func NewFixStore() *FixStore {
	return &FixStore{}
}

// Snapshot returns a copy of the current fix.
func (s *FixStore) Snapshot() Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix
}

// Update runs fn on the stored fix while holding the lock. fn must not block
// or retain the pointer.
func (s *FixStore) Update(fn func(*Fix)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.fix)
	s.gen++
}

// Generation increments on every Update; consumers use it to skip fixes they
// have already seen.
func (s *FixStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SnapshotGen returns the fix together with its generation.
func (s *FixStore) SnapshotGen() (Fix, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix, s.gen
}

// Reset restores the initial invalid state.
func (s *FixStore) Reset() {
	s.Update(func(f *Fix) { *f = Fix{} })
}
