// Package mock provides in-memory implementations of the audio interfaces for
// tests. No real device is touched; tests feed chunks and level windows by
// hand.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.Platform       = (*Platform)(nil)
	_ audio.CaptureSession = (*Session)(nil)
	_ audio.LevelMeter     = (*Meter)(nil)
)

// Platform is a mock audio.Platform. Configure it with a Session to hand out,
// or an error to fail acquisition.
type Platform struct {
	mu sync.Mutex

	// Session is returned by OpenCapture when OpenErr is nil.
	Session *Session

	// OpenErr, when non-nil, is returned by OpenCapture.
	OpenErr error

	// OpenCalls counts OpenCapture invocations.
	OpenCalls int
}

// OpenCapture implements audio.Platform.
func (p *Platform) OpenCapture(_ context.Context, _ audio.Config) (audio.CaptureSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls++
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Session == nil {
		return nil, errors.New("mock: no session configured")
	}
	return p.Session, nil
}

// Session is a mock audio.CaptureSession. Feed encoded chunks with
// [Session.Push]; tests own the timing.
type Session struct {
	mu         sync.Mutex
	chunks     chan audio.Chunk
	meter      *Meter
	mime       string
	closed     bool
	CloseCalls int
}

// NewSession creates a Session that reports the given MIME type.
func NewSession(mimeType string) *Session {
	return &Session{
		chunks: make(chan audio.Chunk, 256),
		meter:  &Meter{},
		mime:   mimeType,
	}
}

// Push delivers one encoded chunk to the session's consumer.
func (s *Session) Push(data []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- audio.Chunk{Data: data, At: at}
}

// Chunks implements audio.CaptureSession.
func (s *Session) Chunks() <-chan audio.Chunk { return s.chunks }

// Meter implements audio.CaptureSession.
func (s *Session) Meter() audio.LevelMeter { return s.meter }

// SetLevel adjusts the loudness the session's meter reports. The meter's
// window is filled with the constant value l, so the RMS equals l exactly.
func (s *Session) SetLevel(l float64) { s.meter.SetLevel(l) }

// MIMEType implements audio.CaptureSession.
func (s *Session) MIMEType() string { return s.mime }

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements audio.CaptureSession. The chunk channel is closed on first
// call; further calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

// Meter is a mock audio.LevelMeter holding a constant-valued window.
type Meter struct {
	mu    sync.Mutex
	level float64
	empty bool
}

// SetLevel sets the value every window sample reports.
func (m *Meter) SetLevel(l float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = l
	m.empty = false
}

// SetEmpty makes TimeDomain report that no audio has been captured yet.
func (m *Meter) SetEmpty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.empty = true
}

// TimeDomain implements audio.LevelMeter.
func (m *Meter) TimeDomain(dst []float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.empty {
		return 0
	}
	for i := range dst {
		dst[i] = m.level
	}
	return len(dst)
}
