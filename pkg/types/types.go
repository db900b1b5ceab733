// Package types defines the shared types used across all Auricle packages.
//
// These types form the lingua franca between the capture layer, the voice
// activity detector, the recording controller, and the transcription-chat
// pipeline. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Utterance is one bounded audio segment treated as a single unit of speech.
// It is produced by the recording controller when the detector (or a manual
// trigger) signals segment completion and is consumed exactly once by the
// transcription-chat pipeline; it is not retained afterwards.
type Utterance struct {
	// Audio is the finalized container-encoded payload (e.g. WebM/Opus) as
	// captured from the device. Auricle never decodes it; it is passed opaquely
	// to the transcription provider.
	Audio []byte

	// MIMEType is the container type negotiated by the capture device
	// (e.g. "audio/webm;codecs=opus").
	MIMEType string

	// Duration is the length of the recorded segment.
	Duration time.Duration
}

// Empty reports whether the utterance carries no audio data.
func (u Utterance) Empty() bool { return len(u.Audio) == 0 }

// Transcript represents a speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the BCP-47 language tag reported by the provider, when known.
	Language string

	// Duration is the audio duration the provider reports for the utterance.
	// Zero when the provider does not report it.
	Duration time.Duration
}

// Exchange is one completed conversation turn: what was heard and what the
// assistant answered. Exchanges are the unit persisted by the history store.
type Exchange struct {
	// ID is the store-assigned identifier. Zero until persisted.
	ID int64

	// Transcript is the (possibly corrected) text that was sent to the model.
	Transcript string

	// Reply is the full assembled model response.
	Reply string

	// Model identifies which chat model produced the reply.
	Model string

	// CreatedAt is when the exchange completed.
	CreatedAt time.Time
}
