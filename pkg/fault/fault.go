// Package fault defines the closed error taxonomy shared by the transcription
// and chat stages of the Auricle pipeline.
//
// Every failure that crosses a package boundary is represented as a [Fault]
// carrying a machine-readable [Kind] and a human-facing hint. Provider errors
// are categorized exactly once, through [Classify], and never re-interpreted
// downstream. The taxonomy is deliberately closed: callers switch on Kind and
// can rely on the set never growing behind their backs within a major version.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a pipeline failure.
type Kind string

const (
	// KindNoCredential means no API credential is configured. Raised locally,
	// before any network call.
	KindNoCredential Kind = "no_credential"

	// KindInvalidCredential means the provider rejected the configured
	// credential (expired, revoked, or malformed key).
	KindInvalidCredential Kind = "invalid_credential"

	// KindRateLimited means the provider throttled the request.
	KindRateLimited Kind = "rate_limited"

	// KindQuotaExhausted means the account's usage allowance is spent.
	KindQuotaExhausted Kind = "quota_exhausted"

	// KindMalformedRequest means the provider could not parse the request.
	KindMalformedRequest Kind = "malformed_request"

	// KindModelUnavailable means the requested model does not exist or is not
	// accessible to this account.
	KindModelUnavailable Kind = "model_unavailable"

	// KindServiceUnavailable means the provider is down or overloaded.
	KindServiceUnavailable Kind = "service_unavailable"

	// KindInvalidAudioFormat means the audio payload failed local structural
	// validation or was rejected by the provider as undecodable.
	KindInvalidAudioFormat Kind = "invalid_audio_format"

	// KindAudioTooLarge means the payload exceeds the provider's size ceiling.
	// Raised locally, before any network call.
	KindAudioTooLarge Kind = "audio_too_large"

	// KindEmptyAudio means the payload contained zero bytes. Raised locally.
	KindEmptyAudio Kind = "empty_audio"

	// KindUnknown is the fallback for failures no classification rule matched.
	KindUnknown Kind = "unknown"
)

// hints maps each Kind to its user-facing recovery hint. Every Kind has an
// entry; completeness is enforced by a unit test.
var hints = map[Kind]string{
	KindNoCredential:       "Set an API key before starting a stream.",
	KindInvalidCredential:  "The API key was rejected. Enter a new key and try again.",
	KindRateLimited:        "Too many requests. Wait a moment; the next utterance will be processed normally.",
	KindQuotaExhausted:     "The account is out of quota. Check billing with the provider.",
	KindMalformedRequest:   "The provider rejected the request. This usually indicates a bug; check the logs.",
	KindModelUnavailable:   "The selected model is not available. Pick a different model.",
	KindServiceUnavailable: "The provider is temporarily unavailable. Try again shortly.",
	KindInvalidAudioFormat: "The captured audio was not a valid container. The segment was skipped.",
	KindAudioTooLarge:      "The recording is larger than the provider accepts. Shorten the segment ceiling.",
	KindEmptyAudio:         "No audio was captured for this segment.",
	KindUnknown:            "An unexpected error occurred. Check the logs for details.",
}

// Fault is a classified pipeline failure. It implements error and is intended
// to be inspected with [errors.As] or [KindOf].
type Fault struct {
	// Kind is the machine-readable category.
	Kind Kind

	// Message is the underlying provider or validation message, for logs.
	Message string

	// Hint is the human-facing recovery suggestion for this Kind.
	Hint string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// New creates a Fault of the given kind. The hint is filled from the taxonomy
// table; callers never supply hints so that wording stays consistent.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message, Hint: hints[kind]}
}

// Newf creates a Fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return New(kind, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind from err. Returns [KindUnknown] for nil-safe
// convenience when err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
