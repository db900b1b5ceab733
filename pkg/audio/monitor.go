package audio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/auricle/pkg/clock"
)

const (
	// DefaultSamplePeriod is the monitor polling interval.
	DefaultSamplePeriod = 100 * time.Millisecond

	// defaultWindowSize is the number of time-domain samples read per tick.
	defaultWindowSize = 256

	// sampleBuf is the depth of the sample channel. The consumer is a select
	// loop; if it stalls longer than sampleBuf ticks, old readings are dropped
	// rather than blocking the monitor.
	sampleBuf = 64
)

// Monitor polls a [LevelMeter] at a fixed period and emits one [Sample] per
// tick. The loudness metric is the root mean square of the time-domain
// window — more robust against DC offset than averaging raw magnitudes.
//
// A Monitor is single-use: once stopped (context cancellation or [Monitor.Close])
// it cannot be restarted; open a new one instead.
type Monitor struct {
	meter  LevelMeter
	clk    clock.Clock
	period time.Duration

	samples chan Sample
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// MonitorOption is a functional option for configuring a Monitor.
type MonitorOption func(*Monitor)

// WithSamplePeriod overrides the polling interval. Default: 100 ms.
func WithSamplePeriod(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.period = d }
}

// NewMonitor creates a Monitor over the given meter, driven by clk. Call
// [Monitor.Start] to begin sampling.
func NewMonitor(meter LevelMeter, clk clock.Clock, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		meter:   meter,
		clk:     clk,
		period:  DefaultSamplePeriod,
		samples: make(chan Sample, sampleBuf),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Samples returns the read-only sample channel. It is closed when the monitor
// stops.
func (m *Monitor) Samples() <-chan Sample { return m.samples }

// Start launches the sampling goroutine. It must be called at most once.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops the monitor and waits for the sampling goroutine to exit.
// Calling Close more than once is safe.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

// run is the single sampling goroutine. It owns the samples channel and
// closes it on exit.
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.samples)

	ticker := m.clk.NewTicker(m.period)
	defer ticker.Stop()

	window := make([]float64, defaultWindowSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case now := <-ticker.C():
			n := m.meter.TimeDomain(window)
			s := Sample{At: now, Level: RMS(window[:n])}
			select {
			case m.samples <- s:
			default:
				// Consumer stalled; drop rather than block the tick loop.
			}
		}
	}
}

// RMS returns the root mean square of a normalized [-1, 1] sample window.
// Returns 0 for an empty window. The result lies in [0, 1].
func RMS(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(window)))
}
