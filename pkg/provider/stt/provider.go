// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g. the OpenAI audio API or
// a local whisper-server) behind a single batch call: one finalized utterance
// in, one transcript out. Auricle's capture layer hands over container-encoded
// audio exactly as recorded; providers that need a different container must
// transcode internally.
//
// Providers return [fault.Fault] errors classified through the shared
// taxonomy. Classification happens exactly once, at the provider boundary;
// callers must not re-interpret provider failures.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/auricle/pkg/types"
)

// Request carries one utterance payload to a provider.
type Request struct {
	// Audio is the container-encoded payload. Callers validate it before
	// submission; providers may assume it is non-empty.
	Audio []byte

	// MIMEType is the payload container type (e.g. "audio/webm;codecs=opus").
	MIMEType string

	// Language is an optional BCP-47 recognition hint. Empty lets the
	// provider auto-detect.
	Language string
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe submits one utterance and blocks until the provider returns
	// a transcript or fails. The error, when non-nil, is a classified
	// [fault.Fault].
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)
}
