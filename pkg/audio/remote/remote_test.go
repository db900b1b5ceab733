package remote

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
)

func TestOpenCapture_RequiresAttachedFeed(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	if _, err := p.OpenCapture(context.Background(), audio.Config{}); !errors.Is(err, ErrNoFeed) {
		t.Fatalf("OpenCapture error = %v, want ErrNoFeed", err)
	}

	p.Attach("audio/webm;codecs=opus")
	sess, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatalf("OpenCapture after Attach: %v", err)
	}
	defer sess.Close()

	if got := sess.MIMEType(); got != "audio/webm;codecs=opus" {
		t.Fatalf("MIMEType = %q", got)
	}
}

func TestPushChunk_FansOutToAllSessions(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	p.Attach("audio/webm")

	a, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x01}
	p.PushChunk(payload, at)

	for _, sess := range []audio.CaptureSession{a, b} {
		select {
		case chunk := <-sess.Chunks():
			if string(chunk.Data) != string(payload) {
				t.Fatalf("chunk data = %x, want %x", chunk.Data, payload)
			}
			if !chunk.At.Equal(at) {
				t.Fatalf("chunk at = %v, want %v", chunk.At, at)
			}
		default:
			t.Fatal("session received no chunk")
		}
	}
}

func TestPushChunk_CopiesData(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	p.Attach("audio/webm")
	sess, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	payload := []byte{1, 2, 3}
	p.PushChunk(payload, time.Now())
	payload[0] = 99

	chunk := <-sess.Chunks()
	if chunk.Data[0] != 1 {
		t.Fatalf("chunk data mutated along with caller slice: %v", chunk.Data)
	}
}

func TestPushChunk_DropsWhenSessionBufferFull(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	p.Attach("audio/webm")
	sess, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	for i := 0; i < sessionBuffer+3; i++ {
		p.PushChunk([]byte{byte(i)}, time.Now())
	}
	if got := p.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}
}

func TestMeter_ReportsLatestLevel(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	p.Attach("audio/webm")
	sess, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	dst := make([]float64, 8)
	if n := sess.Meter().TimeDomain(dst); n != 0 {
		t.Fatalf("TimeDomain before any level = %d, want 0", n)
	}

	p.PushLevel(0.25)
	if n := sess.Meter().TimeDomain(dst); n != len(dst) {
		t.Fatalf("TimeDomain = %d, want %d", n, len(dst))
	}
	for _, v := range dst {
		if math.Abs(v-0.25) > 1e-12 {
			t.Fatalf("window sample = %v, want 0.25", v)
		}
	}

	p.Detach()
	if n := sess.Meter().TimeDomain(dst); n != 0 {
		t.Fatalf("TimeDomain after Detach = %d, want 0", n)
	}
}

func TestClose_UnregistersSession(t *testing.T) {
	t.Parallel()

	p := NewPlatform()
	p.Attach("audio/webm")
	sess, err := p.OpenCapture(context.Background(), audio.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Pushing after Close must not deliver (or panic on a closed channel).
	p.PushChunk([]byte{1}, time.Now())
	if _, ok := <-sess.Chunks(); ok {
		t.Fatal("closed session still delivered a chunk")
	}
}
