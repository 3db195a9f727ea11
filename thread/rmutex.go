// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package thread

import (
	"errors"
	"sync"

	"github.com/petermattis/goid"
)

// ErrNotOwner is returned when releasing an RMutex that the caller does not hold.
var ErrNotOwner = errors.New("thread: mutex not held by caller")

// RMutex is a reentrant mutual exclusion lock. The holder is the goroutine that acquired it,
// and it may acquire it again any number of times; it must release it as many times before
// any other goroutine can acquire it. The zero value is an unlocked mutex.
type RMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond // signalled when the mutex becomes free
	owner int64      // goroutine id of the holder
	count int        // hold count, 0 when free
}

func (m *RMutex) wait() {
	if m.cond == nil {
		m.cond = sync.NewCond(&m.mu)
	}
	m.cond.Wait()
}

// Acquire locks m, blocking until it is free unless the caller already holds it.
func (m *RMutex) Acquire() {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count > 0 && m.owner == id {
		m.count++
		return
	}
	for m.count > 0 {
		m.wait()
	}
	m.owner = id
	m.count = 1
}

// Release undoes one Acquire. When the hold count drops to zero the mutex is freed and one
// blocked Acquire is woken up.
func (m *RMutex) Release() error {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 || m.owner != id {
		return ErrNotOwner
	}
	m.count--
	if m.count == 0 {
		m.owner = 0
		if m.cond != nil {
			m.cond.Signal()
		}
	}
	return nil
}

// Locked reports whether the caller holds m.
func (m *RMutex) Locked() bool {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count > 0 && m.owner == id
}

// Lock is Acquire, for use as a sync.Locker.
func (m *RMutex) Lock() { m.Acquire() }

// Unlock is Release, it panics if the caller does not hold m.
func (m *RMutex) Unlock() {
	if err := m.Release(); err != nil {
		panic(err)
	}
}
