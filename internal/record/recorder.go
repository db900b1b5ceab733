// Package record owns the capture device while a segment is being recorded.
//
// A Recorder buffers the device's time-sliced chunks between Start and Stop
// and finalizes them into a single [types.Utterance]. Recordings are bounded:
// one that runs uninterrupted past the configured ceiling is force-stopped so
// a stuck upstream trigger cannot grow the buffer without limit.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/clock"
	"github.com/MrWong99/auricle/pkg/types"
)

// DefaultCeiling bounds how long a single recording may run before it is
// force-stopped.
const DefaultCeiling = 15 * time.Second

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("record: recording already in progress")
	// ErrNotRecording is returned by Stop when no recording was ever started.
	ErrNotRecording = errors.New("record: no recording in progress")
	// ErrForceStopped is returned by the Stop call that races with the
	// ceiling: the recording was already finalized and handed to the
	// force-stop handler, so there is no segment left to return.
	ErrForceStopped = errors.New("record: recording already force-stopped at ceiling")
)

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithCeiling overrides the force-stop ceiling. Default: 15s.
func WithCeiling(d time.Duration) Option {
	return func(r *Recorder) { r.ceiling = d }
}

// WithCaptureConfig sets the capture configuration passed to the platform.
func WithCaptureConfig(cfg audio.Config) Option {
	return func(r *Recorder) { r.captureCfg = cfg }
}

// WithForceStopHandler registers a callback invoked with the finalized
// utterance when the ceiling force-stops a recording. The callback runs on
// the recorder's timer goroutine and must not call back into the Recorder.
func WithForceStopHandler(fn func(types.Utterance)) Option {
	return func(r *Recorder) { r.onForceStop = fn }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// Recorder records one audio segment at a time from a capture platform.
// All methods are safe for concurrent use.
type Recorder struct {
	platform    audio.Platform
	clk         clock.Clock
	ceiling     time.Duration
	captureCfg  audio.Config
	onForceStop func(types.Utterance)
	log         *slog.Logger

	mu     sync.Mutex
	active *recording
	// forced is set when the ceiling stopped the active recording; the next
	// Stop call consumes it as a no-op.
	forced bool
}

// recording holds the per-segment state between Start and Stop.
type recording struct {
	session   audio.CaptureSession
	startedAt time.Time
	timer     clock.Timer
	done      chan struct{}

	bufMu  sync.Mutex
	chunks [][]byte

	collected chan struct{}
}

// New constructs a Recorder over the given capture platform.
func New(platform audio.Platform, clk clock.Clock, opts ...Option) *Recorder {
	r := &Recorder{
		platform: platform,
		clk:      clk,
		ceiling:  DefaultCeiling,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recording reports whether a segment is currently being recorded.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start acquires the capture device and begins buffering chunks. It fails
// with [ErrAlreadyRecording] while a recording is active, and passes through
// the platform error when the device cannot be opened.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrAlreadyRecording
	}
	r.forced = false

	session, err := r.platform.OpenCapture(ctx, r.captureCfg)
	if err != nil {
		return fmt.Errorf("record: open capture: %w", err)
	}

	rec := &recording{
		session:   session,
		startedAt: r.clk.Now(),
		timer:     r.clk.NewTimer(r.ceiling),
		done:      make(chan struct{}),
		collected: make(chan struct{}),
	}
	r.active = rec

	go r.collect(rec)
	go r.watchCeiling(rec)

	r.log.Debug("recording started", "ceiling", r.ceiling)
	return nil
}

// collect buffers chunks until the session's chunk channel closes.
func (r *Recorder) collect(rec *recording) {
	defer close(rec.collected)
	for chunk := range rec.session.Chunks() {
		rec.bufMu.Lock()
		rec.chunks = append(rec.chunks, chunk.Data)
		rec.bufMu.Unlock()
	}
}

// watchCeiling force-stops the recording when the ceiling timer fires.
func (r *Recorder) watchCeiling(rec *recording) {
	select {
	case <-rec.timer.C():
	case <-rec.done:
		return
	}

	r.mu.Lock()
	if r.active != rec {
		// Raced with a regular Stop; nothing to do.
		r.mu.Unlock()
		return
	}
	utt, err := r.finalizeLocked(rec)
	r.forced = true
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("force-stop finalize failed", "error", err)
		return
	}
	r.log.Info("recording force-stopped at ceiling", "duration", utt.Duration, "bytes", len(utt.Audio))
	if r.onForceStop != nil {
		r.onForceStop(utt)
	}
}

// Stop finalizes the active recording into an Utterance. Calling Stop after
// the ceiling already force-stopped the recording returns [ErrForceStopped],
// consumed once, so the caller can tell the race apart from a capture that
// genuinely produced no audio. Stop without a prior Start returns
// [ErrNotRecording].
func (r *Recorder) Stop() (types.Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forced {
		r.forced = false
		return types.Utterance{}, ErrForceStopped
	}
	if r.active == nil {
		return types.Utterance{}, ErrNotRecording
	}
	return r.finalizeLocked(r.active)
}

// finalizeLocked releases the device, drains the chunk buffer, and assembles
// the Utterance. Callers must hold r.mu. The device is released on every
// path, including close errors.
func (r *Recorder) finalizeLocked(rec *recording) (types.Utterance, error) {
	r.active = nil
	rec.timer.Stop()
	close(rec.done)

	closeErr := rec.session.Close()
	// The session contract closes the chunk channel on Close; wait for the
	// collector to drain whatever the device already produced.
	<-rec.collected

	duration := r.clk.Now().Sub(rec.startedAt)

	rec.bufMu.Lock()
	total := 0
	for _, c := range rec.chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range rec.chunks {
		buf = append(buf, c...)
	}
	rec.bufMu.Unlock()

	utt := types.Utterance{
		Audio:    buf,
		MIMEType: rec.session.MIMEType(),
		Duration: duration,
	}

	if closeErr != nil {
		return utt, fmt.Errorf("record: release capture device: %w", closeErr)
	}
	r.log.Debug("recording stopped", "duration", duration, "bytes", total)
	return utt, nil
}
