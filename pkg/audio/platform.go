// Package audio defines the interfaces and types for capture-device
// connectivity and loudness metering within Auricle.
//
// The two primary abstractions are:
//
//   - [Platform] — opens the system audio loopback and returns a [CaptureSession].
//   - [CaptureSession] — an active capture, giving callers a stream of encoded
//     chunks, a level-metering primitive, and the negotiated container type.
//
// Implementations of these interfaces are provided by host-specific adapter
// packages (the desktop shell supplies the real device; tests use audio/mock).
// The interfaces are intentionally narrow to keep the recording controller
// decoupled from device details.
//
// This package lives under pkg/ because external code (host shells, platform
// adapters) is expected to implement [Platform] and [CaptureSession].
package audio

import "context"

// LevelMeter exposes the most recent time-domain window of the captured
// signal. It is the metering primitive that accompanies every capture stream.
//
// Implementations must be safe for concurrent use; the [Monitor] polls the
// meter from its own goroutine while the device writes from another.
type LevelMeter interface {
	// TimeDomain copies the most recent time-domain window into dst, with
	// samples normalized to [-1, 1], and returns the number of samples
	// written. A return of 0 means no audio has been captured yet.
	TimeDomain(dst []float64) int
}

// CaptureSession represents an open capture of the system audio stream.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks the underlying device handle. All methods must be safe for
// concurrent use.
type CaptureSession interface {
	// Chunks returns a read-only channel delivering encoded audio chunks at
	// the configured slicing interval. The channel is closed when the session
	// ends.
	Chunks() <-chan Chunk

	// Meter returns the level-metering primitive for this capture.
	Meter() LevelMeter

	// MIMEType returns the container type the device negotiated
	// (e.g. "audio/webm;codecs=opus"). Constant for the session lifetime.
	MIMEType() string

	// Close releases the capture device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Platform is the entry point for a capture-device provider.
//
// Implementations must be safe for concurrent use, though Auricle opens at
// most one capture session at a time.
type Platform interface {
	// OpenCapture acquires the system audio stream and returns an active
	// [CaptureSession]. The supplied ctx governs the acquisition attempt only;
	// once open, the session remains alive until Close is called.
	//
	// Returns an error if no audio device is available or permission is
	// denied.
	OpenCapture(ctx context.Context, cfg Config) (CaptureSession, error)
}
