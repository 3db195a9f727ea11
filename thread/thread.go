// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/petermattis/goid"
)

// Realtime locks the calling goroutine to its own kernel thread and elevates that
// thread's priority to realtime. It sets the round-robin schduling policy and uses
// priority level 10 (somewhere in the lower middle of the range).
func Realtime() error {
	// First pin goroutine to its own kernel thread.
	runtime.LockOSThread()
	// Get the ID of the thread.
	tid := syscall.Gettid()
	// Give this thread realtime priority.
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

type schedParam struct {
	Priority int
}

// WorkFunc is the body of a managed Thread. It must return when ctx is cancelled, which
// happens when Stop is called. The return value is captured and handed to Wait.
type WorkFunc func(ctx context.Context, t *Thread) int

// Option configures a Thread.
type Option func(*Thread)

// WithStack records a stack size hint. Goroutine stacks grow on demand so the hint is
// informational only.
func WithStack(bytes int) Option { return func(t *Thread) { t.stack = bytes } }

// WithRealtime runs the worker on its own kernel thread with realtime priority, see Realtime.
func WithRealtime() Option { return func(t *Thread) { t.realtime = true } }

// WithLogger sets a logging function.
func WithLogger(l func(format string, v ...interface{})) Option {
	return func(t *Thread) {
		if l != nil {
			t.log = l
		}
	}
}

// Thread is a managed worker goroutine with a cooperative stop flag and a captured return code.
type Thread struct {
	name     string
	stack    int
	realtime bool
	run      WorkFunc
	log      func(format string, v ...interface{})

	mu      sync.Mutex
	running bool               // cleared by Stop
	alive   bool               // worker goroutine has not returned yet
	cancel  context.CancelFunc // cancels the worker's context
	done    chan struct{}      // closed when the worker returns
	ident   int64              // goroutine id of the worker
	rc      int                // return code of the last run
}

// New creates a thread that will execute run once started.
func New(name string, run WorkFunc, opts ...Option) *Thread {
	t := &Thread{name: name, run: run, log: func(format string, v ...interface{}) {}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name returns the name of the thread.
func (t *Thread) Name() string { return t.name }

// StackSize returns the stack size hint.
func (t *Thread) StackSize() int { return t.stack }

// Ident returns the goroutine id of the worker, 0 if it never ran.
func (t *Thread) Ident() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ident
}

func (t *Thread) String() string { return fmt.Sprintf("%s:%d", t.name, t.Ident()) }

// Running reports whether the thread has been started and not yet asked to stop.
func (t *Thread) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start launches the worker. It is a no-op if the worker is still alive.
func (t *Thread) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.alive {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.alive, t.running = true, true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.main(ctx, t.done)
}

func (t *Thread) main(ctx context.Context, done chan struct{}) {
	if t.realtime {
		if err := Realtime(); err != nil {
			t.log("thread %s: cannot set realtime priority: %s", t.name, err)
		}
	}
	t.mu.Lock()
	t.ident = goid.Get()
	t.mu.Unlock()

	rc := t.run(ctx, t)

	t.mu.Lock()
	t.rc = rc
	t.alive = false
	t.cancel()
	t.mu.Unlock()
	close(done)
}

// Stop clears the running flag and cancels the worker's context. The worker is expected
// to notice and return, use Wait to collect it.
func (t *Thread) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	if t.cancel != nil {
		t.cancel()
	}
}

// Wait waits for the worker to return if block is true, else it just checks.
// It returns the worker's return code and whether the worker has finished.
// A thread that was never started counts as finished.
func (t *Thread) Wait(block bool) (int, bool) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		if block {
			<-done
		} else {
			select {
			case <-done:
			default:
				return 0, false
			}
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rc, true
}
