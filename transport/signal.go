// Copyright 2025 Outreach Corporation. All Rights Reserved.

package transport

import "sync"

// Signal is a one-shot, idempotent cross-goroutine wakeup (component B).
// Grounded on the `signal` type in anarchoredis/replication/replication.go:
// a lazily-created channel closed exactly once via sync.Once, which is the
// idiomatic Go stand-in for a kernel eventfd -- Done() is select-able from
// any number of goroutines the way an eventfd is poll-able.
type Signal struct {
	mu   sync.Mutex
	ch   chan struct{}
	once sync.Once
}

// Done returns a channel that closes when Notify is first called. Safe to
// call before or after Notify, and from multiple goroutines.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Notify wakes every goroutine waiting on Done. Idempotent: only the first
// call has any effect.
func (s *Signal) Notify() {
	s.mu.Lock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	ch := s.ch
	s.mu.Unlock()

	s.once.Do(func() {
		close(ch)
	})
}

// Fired reports whether Notify has already been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
