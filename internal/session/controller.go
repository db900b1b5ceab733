// Package session arbitrates who may start a recording and when: manual
// push-to-talk versus hands-free auto-answer, with at most one recording and
// one reply stream in flight at any time.
//
// The controller owns the monitoring capture stream, feeds the voice
// activity detector, drives the recorder from whichever trigger source the
// current mode honors, and forwards pipeline events to its event channel.
// Mode switches never abort in-flight work; they change which trigger is
// honored for the next utterance.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/record"
	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/clock"
	"github.com/MrWong99/auricle/pkg/fault"
	"github.com/MrWong99/auricle/pkg/types"
	"github.com/MrWong99/auricle/pkg/vad"
)

// Mode selects which trigger source may start a recording.
type Mode string

const (
	// ModeManual honors only explicit toggle triggers.
	ModeManual Mode = "manual"
	// ModeAutoAnswer honors voice-activity events.
	ModeAutoAnswer Mode = "auto_answer"
)

// EventType identifies one controller event.
type EventType string

const (
	EventUtteranceStarted EventType = "utterance_started"
	EventUtteranceEnded   EventType = "utterance_ended"
	EventTranscript       EventType = "transcript"
	EventStreamChunk      EventType = "stream_chunk"
	EventStreamComplete   EventType = "stream_complete"
	EventStreamError      EventType = "stream_error"
)

// Event is one message on the controller's event channel. This closed set is
// the whole surface a presentation layer subscribes to.
type Event struct {
	Type EventType
	// Text carries the transcript or a reply fragment.
	Text string
	// FullText carries the reassembled reply on EventStreamComplete.
	FullText string
	// Discarded marks an EventUtteranceEnded whose speech was too short.
	Discarded bool
	// Fault is set on EventStreamError.
	Fault *fault.Fault
}

var (
	// ErrStreaming is returned by StartStream while the stream is already open.
	ErrStreaming = errors.New("session: stream already started")
	// ErrNotStreaming is returned by operations that need an open stream.
	ErrNotStreaming = errors.New("session: stream not started")
	// ErrResponseInFlight is returned when a new recording is refused because
	// a reply is still streaming.
	ErrResponseInFlight = errors.New("session: response in flight")
	// ErrAutoAnswerActive is returned when a manual trigger is refused in
	// auto-answer mode.
	ErrAutoAnswerActive = errors.New("session: manual trigger refused in auto-answer mode")
)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithHistory attaches a history store; completed exchanges are appended to
// it. When nil (the default), no history is kept.
func WithHistory(h history.Store) Option {
	return func(c *Controller) { c.hist = h }
}

// WithVADConfig overrides the voice-activity thresholds.
func WithVADConfig(cfg vad.Config) Option {
	return func(c *Controller) { c.vadCfg = cfg }
}

// WithRecordingCeiling overrides the recorder's force-stop ceiling.
func WithRecordingCeiling(d time.Duration) Option {
	return func(c *Controller) { c.ceiling = d }
}

// WithCaptureConfig sets the capture configuration for both the monitoring
// stream and per-segment recordings.
func WithCaptureConfig(cfg audio.Config) Option {
	return func(c *Controller) { c.captureCfg = cfg }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller is the session and mode controller.
type Controller struct {
	platform   audio.Platform
	clk        clock.Clock
	pipe       *pipeline.Pipeline
	settings   *Settings
	rec        *record.Recorder
	hist       history.Store
	metrics    *observe.Metrics
	log        *slog.Logger
	vadCfg     vad.Config
	captureCfg audio.Config
	ceiling    time.Duration

	events chan Event

	mu        sync.Mutex
	mode      Mode
	inFlight  bool
	vadOwned  bool
	recGauge  bool
	closed    bool
	streaming bool
	session   audio.CaptureSession
	monitor   *audio.Monitor
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New constructs a Controller in manual mode. The stream is not started
// until [Controller.StartStream].
func New(platform audio.Platform, clk clock.Clock, pipe *pipeline.Pipeline, settings *Settings, opts ...Option) *Controller {
	c := &Controller{
		platform: platform,
		clk:      clk,
		pipe:     pipe,
		settings: settings,
		log:      slog.Default(),
		mode:     ModeManual,
		ceiling:  record.DefaultCeiling,
		events:   make(chan Event, 256),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.rec = record.New(platform, clk,
		record.WithCeiling(c.ceiling),
		record.WithCaptureConfig(c.captureCfg),
		record.WithForceStopHandler(c.onForceStop),
		record.WithLogger(c.log),
	)
	return c
}

// Events returns the controller's event channel. It is closed by
// [Controller.Close]. There must be exactly one consumer.
func (c *Controller) Events() <-chan Event { return c.events }

// Mode returns the current trigger mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetAutoAnswer toggles hands-free mode. An in-flight recording or reply is
// never aborted; the mode applies to the next utterance.
func (c *Controller) SetAutoAnswer(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.mode = ModeAutoAnswer
	} else {
		c.mode = ModeManual
	}
	c.log.Info("mode changed", "mode", c.mode)
}

// setVADOwned marks whether the active recording was started by the voice
// activity detector. Only detector boundaries may finalize such a segment.
func (c *Controller) setVADOwned(owned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vadOwned = owned
}

func (c *Controller) isVADOwned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vadOwned
}

// ResponseInFlight reports whether a reply stream is currently running.
func (c *Controller) ResponseInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// StartStream opens the monitoring capture stream and begins driving the
// voice activity detector.
func (c *Controller) StartStream(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return ErrStreaming
	}

	session, err := c.platform.OpenCapture(ctx, c.captureCfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	monitor := audio.NewMonitor(session.Meter(), c.clk)
	monitor.Start(runCtx)

	c.session = session
	c.monitor = monitor
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	c.streaming = true

	go c.loop(runCtx, monitor, vad.New(c.vadCfg), c.loopDone)
	c.log.Info("monitoring stream started")
	return nil
}

// StopStream tears down the monitoring stream. An active recording is
// stopped and its segment discarded; an in-flight reply keeps streaming.
func (c *Controller) StopStream() error {
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return ErrNotStreaming
	}
	c.streaming = false
	cancel, monitor, session, loopDone := c.cancel, c.monitor, c.session, c.loopDone
	c.cancel, c.monitor, c.session, c.loopDone = nil, nil, nil, nil
	c.mu.Unlock()

	cancel()
	monitor.Close()
	<-loopDone
	err := session.Close()

	if c.rec.Recording() {
		if _, stopErr := c.rec.Stop(); stopErr != nil && !errors.Is(stopErr, record.ErrForceStopped) {
			c.log.Warn("discarding recording on stream stop failed", "error", stopErr)
		}
		c.setVADOwned(false)
		c.gaugeRecEnd()
		c.emit(Event{Type: EventUtteranceEnded, Discarded: true})
	}
	c.log.Info("monitoring stream stopped")
	return err
}

// ToggleRecording is the manual push-to-talk trigger: it starts a recording
// when none is active and otherwise stops the active one and hands the
// segment to the pipeline. Starting is refused in auto-answer mode and while
// a reply is in flight; stopping is refused while the detector owns the
// active recording, since only its boundary may finalize that segment.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	if c.rec.Recording() {
		if c.isVADOwned() {
			return ErrAutoAnswerActive
		}
		utt, err := c.rec.Stop()
		c.gaugeRecEnd()
		c.emit(Event{Type: EventUtteranceEnded})
		if errors.Is(err, record.ErrForceStopped) {
			// The ceiling finalized and dispatched this segment already.
			return nil
		}
		if err != nil {
			return err
		}
		// An empty capture is dispatched too; the pipeline reports it as
		// a fault instead of the segment vanishing without a trace.
		c.dispatch(utt, "manual")
		return nil
	}

	if c.Mode() != ModeManual {
		return ErrAutoAnswerActive
	}
	if c.ResponseInFlight() {
		return ErrResponseInFlight
	}
	if err := c.rec.Start(ctx); err != nil {
		return err
	}
	c.gaugeRecStart()
	c.emit(Event{Type: EventUtteranceStarted})
	return nil
}

// loop consumes loudness samples, runs them through the detector, and acts
// on utterance boundaries when auto-answer is active.
func (c *Controller) loop(ctx context.Context, monitor *audio.Monitor, det *vad.Detector, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-monitor.Samples():
			if !ok {
				return
			}
			// The detector is gated, not paused, while a reply streams: ticks
			// are simply not evaluated.
			if c.ResponseInFlight() {
				continue
			}
			ev, ok := det.Process(s)
			if !ok {
				continue
			}
			switch ev.Type {
			case vad.UtteranceStarted:
				if c.Mode() != ModeAutoAnswer || c.rec.Recording() {
					continue
				}
				if err := c.rec.Start(ctx); err != nil {
					c.log.Warn("auto recording start failed", "error", err)
					continue
				}
				c.setVADOwned(true)
				c.gaugeRecStart()
				c.emit(Event{Type: EventUtteranceStarted})

			case vad.UtteranceEnded:
				// A boundary only finalizes segments the detector started;
				// manual segments and ceiling-finalized ones are left alone.
				if !c.isVADOwned() {
					continue
				}
				c.setVADOwned(false)
				utt, err := c.rec.Stop()
				c.gaugeRecEnd()
				c.emit(Event{Type: EventUtteranceEnded, Discarded: ev.Discarded})
				if errors.Is(err, record.ErrForceStopped) {
					continue
				}
				if err != nil {
					c.log.Warn("auto recording stop failed", "error", err)
					continue
				}
				if ev.Discarded {
					// Too short to be speech; drop the buffered audio.
					c.metrics.RecordUtterance(ctx, "vad", "discarded")
					continue
				}
				c.dispatch(utt, "vad")
			}
		}
	}
}

// onForceStop receives segments finalized by the recorder's ceiling. The
// ceiling ends detector ownership too: the boundary the detector eventually
// emits has nothing left to finalize.
func (c *Controller) onForceStop(utt types.Utterance) {
	c.setVADOwned(false)
	c.gaugeRecEnd()
	c.emit(Event{Type: EventUtteranceEnded})
	if utt.Empty() {
		c.metrics.RecordUtterance(context.Background(), "forced", "discarded")
		return
	}
	c.dispatch(utt, "forced")
}

// dispatch runs the pipeline for one segment on its own goroutine, forwards
// its events, and records the exchange on success. The in-flight flag stays
// set until the terminal event, which gates all new recordings.
func (c *Controller) dispatch(utt types.Utterance, trigger string) {
	c.setInFlight(true)
	go func() {
		defer c.setInFlight(false)
		ctx := context.Background()
		outcome := "ok"
		var transcriptText, fullText string

		for ev := range c.pipe.Run(ctx, pipeline.Request{
			Utterance:    utt,
			SystemPrompt: c.settings.SystemPrompt(),
		}) {
			switch ev.Type {
			case pipeline.EventTranscript:
				transcriptText = ev.Text
				c.emit(Event{Type: EventTranscript, Text: ev.Text})
			case pipeline.EventStreamChunk:
				c.emit(Event{Type: EventStreamChunk, Text: ev.Text})
			case pipeline.EventStreamComplete:
				fullText = ev.FullText
				c.emit(Event{Type: EventStreamComplete, FullText: ev.FullText})
			case pipeline.EventStreamError:
				outcome = string(ev.Fault.Kind)
				if ev.Fault.Kind == fault.KindInvalidCredential {
					c.settings.ClearCredential()
				}
				c.emit(Event{Type: EventStreamError, Fault: ev.Fault})
			}
		}

		c.metrics.RecordUtterance(ctx, trigger, outcome)
		if outcome == "ok" && c.hist != nil {
			ex := &types.Exchange{
				Transcript: transcriptText,
				Reply:      fullText,
				Model:      c.settings.Model(),
			}
			if err := c.hist.Append(ctx, ex); err != nil {
				c.log.Warn("history append failed", "error", err)
			}
		}
	}()
}

// Close stops the stream if needed and closes the event channel.
func (c *Controller) Close() error {
	err := c.StopStream()
	if errors.Is(err, ErrNotStreaming) {
		err = nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return err
}

func (c *Controller) setInFlight(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = v
}

func (c *Controller) gaugeRecStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recGauge {
		c.recGauge = true
		c.metrics.ActiveRecordings.Add(context.Background(), 1)
	}
}

func (c *Controller) gaugeRecEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recGauge {
		c.recGauge = false
		c.metrics.ActiveRecordings.Add(context.Background(), -1)
	}
}

// emit forwards an event without ever blocking the control path. When the
// consumer lags behind the buffer, the event is dropped with a warning.
func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event dropped, subscriber too slow", "type", ev.Type)
	}
}
