// Package clock abstracts monotonic time so that the level monitor and the
// recording controller can be driven by a fake clock in tests instead of
// sleeping.
package clock

import "time"

// Clock supplies the current time and timer primitives.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker

	// NewTimer returns a timer that fires once after d.
	NewTimer(d time.Duration) Timer
}

// Ticker mirrors [time.Ticker] behind an interface.
type Ticker interface {
	// C returns the tick channel.
	C() <-chan time.Time

	// Stop stops the ticker. It does not close the channel.
	Stop()
}

// Timer mirrors [time.Timer] behind an interface.
type Timer interface {
	// C returns the expiry channel.
	C() <-chan time.Time

	// Stop prevents the timer from firing if it has not fired yet.
	Stop()
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop()               { s.t.Stop() }
