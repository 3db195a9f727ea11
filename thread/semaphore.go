// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package thread

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSemaphoreOverflow is returned by Release when the available count would exceed the maximum.
var ErrSemaphoreOverflow = errors.New("thread: semaphore released beyond its maximum")

// Semaphore is a counting semaphore with a fixed maximum. Unlike semaphore.Weighted, on which
// it is built, releasing too many units is reported as an error instead of panicking.
type Semaphore struct {
	w    *semaphore.Weighted
	max  int64
	mu   sync.Mutex
	held int64 // units not available, only ever <= the units held inside w
}

// NewSemaphore returns a semaphore with the given maximum and initially available count.
// An available count outside [0,max] is clamped.
func NewSemaphore(max, available int64) *Semaphore {
	switch {
	case available < 0:
		available = 0
	case available > max:
		available = max
	}
	s := &Semaphore{w: semaphore.NewWeighted(max), max: max, held: max - available}
	if s.held > 0 {
		s.w.TryAcquire(s.held) // fresh semaphore, cannot fail
	}
	return s
}

// Acquire blocks until n units are available and takes them, or until ctx is done.
func (s *Semaphore) Acquire(ctx context.Context, n int64) error {
	if err := s.w.Acquire(ctx, n); err != nil {
		return err
	}
	s.mu.Lock()
	s.held += n
	s.mu.Unlock()
	return nil
}

// TryAcquire takes n units if they are available right now and reports whether it did.
func (s *Semaphore) TryAcquire(n int64) bool {
	if !s.w.TryAcquire(n) {
		return false
	}
	s.mu.Lock()
	s.held += n
	s.mu.Unlock()
	return true
}

// Release returns n units to the semaphore, waking up waiters that can now proceed.
func (s *Semaphore) Release(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.held {
		return ErrSemaphoreOverflow
	}
	s.held -= n
	s.w.Release(n)
	return nil
}

// Available returns the number of units that can currently be acquired. Acquisitions that
// are in progress may not be reflected yet.
func (s *Semaphore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - s.held
}

// Max returns the maximum count.
func (s *Semaphore) Max() int64 { return s.max }
