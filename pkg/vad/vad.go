// Package vad implements the amplitude-threshold voice activity detector that
// gates the Auricle recording pipeline.
//
// The detector is a two-state machine (Idle, Speaking) over the loudness
// sample stream produced by the audio level monitor. A sample above the speech
// threshold starts an utterance; an utterance ends only after the loudness has
// stayed at or below the threshold for a full silence hangover. Utterances
// shorter than the minimum speech duration are flagged as discarded so the
// caller can drop the buffered audio without processing it.
//
// The detector is a pure function of the sample stream: all timing derives
// from sample timestamps, never from the wall clock, which makes it fully
// deterministic under test. It deliberately knows nothing about downstream
// busy-ness — gating detection while a response is streaming is the session
// controller's job, keeping the detector reusable and stateless with respect
// to the rest of the system.
//
// A Detector is not safe for concurrent use; feed it from a single goroutine.
package vad

import (
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
)

const (
	// DefaultSpeechThreshold is the loudness above which a sample counts as
	// speech, on the monitor's [0, 1] RMS scale.
	DefaultSpeechThreshold = 0.05

	// DefaultSilenceHangover is how long loudness must stay at or below the
	// threshold before an utterance is considered ended.
	DefaultSilenceHangover = 2 * time.Second

	// DefaultMinSpeech is the minimum utterance duration; shorter segments
	// are discarded without transcription.
	DefaultMinSpeech = time.Second
)

// State enumerates detector states.
type State int

const (
	// StateIdle means no utterance is in progress.
	StateIdle State = iota

	// StateSpeaking means an utterance has started and not yet ended.
	StateSpeaking
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventType enumerates detector events.
type EventType int

const (
	// UtteranceStarted fires when a sample exceeds the speech threshold while
	// the detector is idle.
	UtteranceStarted EventType = iota

	// UtteranceEnded fires when the silence hangover elapses after speech.
	UtteranceEnded
)

// Event is a detector transition. Between any two UtteranceStarted events
// there is always exactly one UtteranceEnded.
type Event struct {
	// Type is the transition kind.
	Type EventType

	// At is the timestamp of the sample that triggered the transition.
	At time.Time

	// Duration is the speech duration, measured from utterance start to the
	// beginning of the terminating silence. Set on UtteranceEnded only.
	Duration time.Duration

	// Discarded is true on UtteranceEnded when the speech duration fell
	// below the minimum; the caller must drop the buffered audio.
	Discarded bool
}

// Config holds the detector thresholds. Zero values select the defaults.
type Config struct {
	// SpeechThreshold is the loudness above which a sample is speech.
	SpeechThreshold float64

	// SilenceHangover is the continuous sub-threshold duration required to
	// end an utterance.
	SilenceHangover time.Duration

	// MinSpeech is the minimum utterance duration; shorter ones are
	// discarded.
	MinSpeech time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceHangover <= 0 {
		c.SilenceHangover = DefaultSilenceHangover
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	return c
}

// Detector classifies a loudness sample stream into utterances.
type Detector struct {
	cfg Config

	state           State
	speechStartedAt time.Time
	silenceSince    time.Time // zero while speech is ongoing
}

// New returns a Detector with the given config; zero fields use defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// State returns the current detector state.
func (d *Detector) State() State { return d.state }

// Config returns the effective configuration after defaulting.
func (d *Detector) Config() Config { return d.cfg }

// Process advances the state machine by one sample. When the sample causes a
// transition, the returned Event describes it and ok is true; otherwise the
// Event is the zero value and ok is false.
func (d *Detector) Process(s audio.Sample) (Event, bool) {
	speech := s.Level > d.cfg.SpeechThreshold

	switch d.state {
	case StateIdle:
		if !speech {
			return Event{}, false
		}
		d.state = StateSpeaking
		d.speechStartedAt = s.At
		d.silenceSince = time.Time{}
		return Event{Type: UtteranceStarted, At: s.At}, true

	case StateSpeaking:
		if speech {
			// Speech continues; abandon any silence candidate.
			d.silenceSince = time.Time{}
			return Event{}, false
		}
		if d.silenceSince.IsZero() {
			// Candidate end of utterance.
			d.silenceSince = s.At
			return Event{}, false
		}
		if s.At.Sub(d.silenceSince) < d.cfg.SilenceHangover {
			return Event{}, false
		}

		// Hangover elapsed: the utterance ended when the silence began.
		duration := d.silenceSince.Sub(d.speechStartedAt)
		ev := Event{
			Type:      UtteranceEnded,
			At:        s.At,
			Duration:  duration,
			Discarded: duration < d.cfg.MinSpeech,
		}
		d.reset()
		return ev, true
	}

	return Event{}, false
}

// Reset returns the detector to Idle, clearing all timers. Use when the audio
// stream is torn down mid-utterance.
func (d *Detector) Reset() { d.reset() }

func (d *Detector) reset() {
	d.state = StateIdle
	d.speechStartedAt = time.Time{}
	d.silenceSince = time.Time{}
}
