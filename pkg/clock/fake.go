package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers and tickers fire
// synchronously inside [Fake.Advance], so tests never sleep.
//
// Fake is safe for concurrent use, but Advance must not be called from a
// goroutine that a pending timer will unblock — deliver order is deterministic
// only when a single test goroutine drives the clock.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

// Compile-time assertion that Fake satisfies Clock.
var _ Clock = (*Fake)(nil)

// NewFake returns a Fake positioned at an arbitrary fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now implements [Clock].
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline is reached, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		next := f.nextDeadlineLocked(target)
		if next == nil {
			break
		}
		f.now = next.deadline
		next.fireLocked(f.now)
	}

	f.now = target
	f.mu.Unlock()
}

// nextDeadlineLocked returns the waiter with the earliest deadline not after
// target, or nil when none remain.
func (f *Fake) nextDeadlineLocked(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, w := range f.waiters {
		if w.stopped || w.deadline.After(target) {
			continue
		}
		if earliest == nil || w.deadline.Before(earliest.deadline) {
			earliest = w
		}
	}
	return earliest
}

// NewTicker implements [Clock].
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		clock:    f,
		ch:       make(chan time.Time, 64),
		deadline: f.now.Add(d),
		period:   d,
	}
	f.waiters = append(f.waiters, w)
	return w
}

// NewTimer implements [Clock].
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{
		clock:    f,
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
	}
	f.waiters = append(f.waiters, w)
	return w
}

// fakeWaiter is a pending timer or ticker registered on a Fake. period is
// zero for one-shot timers.
type fakeWaiter struct {
	clock    *Fake
	ch       chan time.Time
	deadline time.Time
	period   time.Duration
	stopped  bool
}

func (w *fakeWaiter) C() <-chan time.Time { return w.ch }

func (w *fakeWaiter) Stop() {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	w.stopped = true
}

// fireLocked delivers one tick and re-arms periodic waiters. Caller holds the
// clock mutex.
func (w *fakeWaiter) fireLocked(now time.Time) {
	select {
	case w.ch <- now:
	default:
	}
	if w.period > 0 {
		w.deadline = w.deadline.Add(w.period)
	} else {
		w.stopped = true
	}
}
