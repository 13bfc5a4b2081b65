package link

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLoopStopped = errors.New("event loop stopped")

// Clock is the time source used by the loop's timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// Loop runs posted closures one at a time, in posting order, on a single
// goroutine. Everything that mutates session or watch-face state runs here,
// so that state needs no further locking.
type Loop struct {
	clock Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = SystemClock()
	}
	return &Loop{clock: clock, wake: make(chan struct{}, 1)}
}

func (l *Loop) Clock() Clock {
	return l.clock
}

func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn. It never blocks, and is safe to call from the loop itself.
// It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// AfterFunc posts fn to the loop once d has elapsed. Stopping the returned
// timer after it fired does not recall an already posted fn.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Run processes posted closures until ctx is cancelled. Closures still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending runs queued closures on the calling goroutine until the queue
// is empty, including closures queued while running. It must not be used
// concurrently with Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		n++
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
}
