package audio

import "time"

// Chunk is one time-sliced piece of container-encoded audio emitted by a
// capture session. Chunks are opaque: Auricle concatenates them into an
// utterance without decoding.
type Chunk struct {
	// Data is the encoded audio slice.
	Data []byte

	// At is when the chunk was finalized by the device.
	At time.Time
}

// Sample is a single loudness reading produced by the [Monitor]. Samples are
// ephemeral; they exist only to drive the voice activity detector.
type Sample struct {
	// At is the monitor tick time, from the injected clock.
	At time.Time

	// Level is the RMS loudness in [0, 1].
	Level float64
}

// Config describes the capture format requested from a [Platform].
type Config struct {
	// SampleRate in Hz (e.g. 48000 for system loopback capture).
	SampleRate int

	// Channels is the channel count; 2 for system audio.
	Channels int

	// ChunkInterval is the device-side slicing period for encoded chunks.
	// The default is 500 ms.
	ChunkInterval time.Duration
}
