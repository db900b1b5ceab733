// Package remote implements the audio interfaces on top of a network feed.
//
// Auricle itself never touches a capture device: the host shell (the desktop
// client that owns screen-capture permission) records system audio and streams
// encoded chunks plus loudness readings to the server. This package replays
// that feed through [audio.Platform] and [audio.CaptureSession] so the rest of
// the recording machinery does not care where the bytes came from.
package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
)

// ErrNoFeed is returned by OpenCapture when no host shell has attached an
// audio feed yet.
var ErrNoFeed = errors.New("remote: no audio feed attached")

// Compile-time interface checks.
var (
	_ audio.Platform       = (*Platform)(nil)
	_ audio.CaptureSession = (*session)(nil)
	_ audio.LevelMeter     = (*meter)(nil)
)

// Platform is an [audio.Platform] fed remotely. The gateway calls Attach when
// a client announces its capture format, then streams data in with PushChunk
// and PushLevel. Open sessions all observe the same feed.
type Platform struct {
	mu       sync.Mutex
	attached bool
	mime     string
	level    float64
	hasLevel bool
	sessions map[*session]struct{}

	// dropped counts chunks discarded because a session's buffer was full.
	dropped uint64
}

// NewPlatform returns a Platform with no feed attached.
func NewPlatform() *Platform {
	return &Platform{sessions: make(map[*session]struct{})}
}

// Attach marks the feed as live and records the container type the host shell
// negotiated (e.g. "audio/webm;codecs=opus"). Attaching again replaces the
// container type; existing sessions keep the type they were opened with.
func (p *Platform) Attach(mimeType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = true
	p.mime = mimeType
}

// Detach marks the feed as gone. Open sessions stay open but receive no
// further chunks, and the meter reports silence until the next PushLevel.
func (p *Platform) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = false
	p.hasLevel = false
}

// Attached reports whether a feed is currently live.
func (p *Platform) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// PushChunk fans one encoded chunk out to every open session. The data is
// copied; the caller may reuse the slice. Sessions whose buffers are full
// drop the chunk rather than stall the feed.
func (p *Platform) PushChunk(data []byte, at time.Time) {
	buf := make([]byte, len(data))
	copy(buf, data)
	chunk := audio.Chunk{Data: buf, At: at}

	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.sessions {
		select {
		case s.chunks <- chunk:
		default:
			p.dropped++
		}
	}
}

// PushLevel records the latest loudness reading, normalized to [0, 1]. The
// shared meter reports this value until the next push.
func (p *Platform) PushLevel(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	p.hasLevel = true
}

// Dropped returns how many chunks were discarded due to full session buffers.
func (p *Platform) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// OpenCapture implements audio.Platform. It fails with [ErrNoFeed] until a
// host shell has attached.
func (p *Platform) OpenCapture(_ context.Context, _ audio.Config) (audio.CaptureSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.attached {
		return nil, ErrNoFeed
	}
	s := &session{
		platform: p,
		chunks:   make(chan audio.Chunk, sessionBuffer),
		mime:     p.mime,
	}
	p.sessions[s] = struct{}{}
	return s, nil
}

// sessionBuffer is the per-session chunk backlog. At the default 500 ms
// slicing interval this covers over a minute of feed without a reader.
const sessionBuffer = 128

type session struct {
	platform *Platform
	chunks   chan audio.Chunk
	mime     string

	mu     sync.Mutex
	closed bool
}

func (s *session) Chunks() <-chan audio.Chunk { return s.chunks }

func (s *session) Meter() audio.LevelMeter { return &meter{platform: s.platform} }

func (s *session) MIMEType() string { return s.mime }

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.platform.mu.Lock()
	delete(s.platform.sessions, s)
	s.platform.mu.Unlock()

	close(s.chunks)
	return nil
}

// meter reads the platform's latest pushed level. The monitor computes RMS of
// the window; filling it with the constant reported level makes the RMS equal
// that level exactly.
type meter struct {
	platform *Platform
}

func (m *meter) TimeDomain(dst []float64) int {
	m.platform.mu.Lock()
	defer m.platform.mu.Unlock()
	if !m.platform.hasLevel {
		return 0
	}
	for i := range dst {
		dst[i] = m.platform.level
	}
	return len(dst)
}
