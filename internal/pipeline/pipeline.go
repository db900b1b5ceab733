// Package pipeline turns one finalized utterance into one streamed chat
// reply: local payload validation, speech-to-text, transcript correction,
// prompt assembly from the context store, and a streamed chat completion.
//
// A run emits an ordered event sequence on its channel: an optional
// transcript event, zero or more stream chunks, then exactly one terminal
// event (complete or error). The terminal event is always last and the
// channel is closed after it. Failures are never retried here; retry is the
// caller's policy.
package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/auricle/internal/contextstore"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/pkg/fault"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/types"
)

const (
	// MaxAudioBytes is the transcription payload ceiling (the provider's
	// documented 25 MB limit), enforced locally before any network call.
	MaxAudioBytes = 25 << 20

	// MinWebMBytes is the smallest payload a real WebM recording can
	// plausibly produce. Anything below it is rejected as corrupt without
	// wasting a provider call.
	MinWebMBytes = 1024

	// DiagnosticCap bounds how many recent payload spools are kept on disk
	// for inspection.
	DiagnosticCap = 3
)

// ebmlMagic is the EBML header every WebM container starts with.
const ebmlMagic = 0x1A45DFA3

// EventType identifies one pipeline event.
type EventType string

const (
	// EventTranscript carries the corrected transcript text.
	EventTranscript EventType = "transcript"
	// EventStreamChunk carries one reply fragment in provider order.
	EventStreamChunk EventType = "stream_chunk"
	// EventStreamComplete terminates a successful run; FullText holds the
	// reassembled reply.
	EventStreamComplete EventType = "stream_complete"
	// EventStreamError terminates a failed run; Fault holds the classified
	// failure.
	EventStreamError EventType = "stream_error"
)

// Event is one message on a run's event channel.
type Event struct {
	Type EventType
	// Text is the transcript (EventTranscript) or the fragment (EventStreamChunk).
	Text string
	// FullText is the reassembled reply, set on EventStreamComplete.
	FullText string
	// Fault is set on EventStreamError.
	Fault *fault.Fault
}

// Request describes one pipeline run.
type Request struct {
	Utterance    types.Utterance
	SystemPrompt string
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithCorrector attaches a transcript corrector. When nil (the default), the
// correction stage is skipped.
func WithCorrector(c *transcript.Corrector) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSpoolDir sets where payload spool files are written. Default: os.TempDir().
func WithSpoolDir(dir string) Option {
	return func(p *Pipeline) { p.spoolDir = dir }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// Pipeline orchestrates transcription and chat for one utterance at a time.
// Providers are swappable because they are rebuilt whenever the credential
// changes; a nil provider pair means no credential is configured and every
// run fails fast.
type Pipeline struct {
	ctxStore  *contextstore.Store
	corrector *transcript.Corrector
	metrics   *observe.Metrics
	log       *slog.Logger
	spoolDir  string

	mu   sync.Mutex
	sttP stt.Provider
	llmP llm.Provider
	// spools holds the retained payload files, oldest first.
	spools []string
}

// New constructs a Pipeline reading context from store. Providers start
// unset; install them with [Pipeline.SetProviders] once a credential exists.
func New(store *contextstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		ctxStore: store,
		log:      slog.Default(),
		spoolDir: os.TempDir(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetProviders installs (or clears, with nils) the transcription and chat
// providers. Runs already in flight keep the providers they started with.
func (p *Pipeline) SetProviders(sttP stt.Provider, llmP llm.Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sttP = sttP
	p.llmP = llmP
}

// Ready reports whether providers are installed.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sttP != nil && p.llmP != nil
}

// Run executes one utterance-to-reply pass. The returned channel delivers
// events in order and is closed after the terminal event. Run never blocks
// the caller; all work happens on its own goroutine.
func (p *Pipeline) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 32)
	go p.run(ctx, req, events)
	return events
}

func (p *Pipeline) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)
	start := time.Now()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(f *fault.Fault) {
		p.log.Warn("pipeline run failed", "kind", f.Kind, "error", f.Message)
		emit(Event{Type: EventStreamError, Fault: f})
	}

	p.mu.Lock()
	sttP, llmP := p.sttP, p.llmP
	p.mu.Unlock()

	if sttP == nil || llmP == nil {
		fail(fault.New(fault.KindNoCredential, "no transcription credential configured"))
		return
	}
	if f := Validate(req.Utterance); f != nil {
		fail(f)
		return
	}

	spool := p.spool(req.Utterance)

	// --- Transcribe ---
	sttStart := time.Now()
	tr, err := sttP.Transcribe(ctx, stt.Request{
		Audio:    req.Utterance.Audio,
		MIMEType: req.Utterance.MIMEType,
	})
	p.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	p.retain(spool)
	if err != nil {
		f := asFault(err)
		p.metrics.RecordProviderError(ctx, "stt", string(f.Kind))
		fail(f)
		return
	}

	// --- Correct ---
	snap := p.ctxStore.Snapshot()
	text := tr.Text
	if p.corrector != nil {
		corrected, corrections := p.corrector.Correct(text, transcript.Vocabulary(snap))
		if n := len(corrections); n > 0 {
			p.log.Debug("transcript corrected", "words", n)
			p.metrics.TranscriptCorrections.Add(ctx, int64(n))
		}
		text = corrected
	}
	if !emit(Event{Type: EventTranscript, Text: text}) {
		return
	}

	// --- Chat ---
	p.metrics.ActiveStreams.Add(ctx, 1)
	defer p.metrics.ActiveStreams.Add(ctx, -1)

	chatStart := time.Now()
	chunks, err := llmP.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     []llm.Message{{Role: "user", Content: BuildUserMessage(snap, text)}},
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		f := asFault(err)
		p.metrics.RecordProviderError(ctx, "chat", string(f.Kind))
		fail(f)
		return
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			f := asFault(chunk.Err)
			p.metrics.RecordProviderError(ctx, "chat", string(f.Kind))
			p.metrics.ChatDuration.Record(ctx, time.Since(chatStart).Seconds())
			fail(f)
			return
		}
		if chunk.Text == "" {
			continue
		}
		full.WriteString(chunk.Text)
		p.metrics.StreamChunks.Add(ctx, 1)
		if !emit(Event{Type: EventStreamChunk, Text: chunk.Text}) {
			return
		}
	}

	p.metrics.ChatDuration.Record(ctx, time.Since(chatStart).Seconds())
	p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("outcome", "ok")))
	emit(Event{Type: EventStreamComplete, FullText: full.String()})
}

// Validate checks an utterance locally before any network call. It returns
// nil when the payload is submittable.
func Validate(u types.Utterance) *fault.Fault {
	if u.Empty() {
		return fault.New(fault.KindEmptyAudio, "recorded segment contains no audio data")
	}
	if len(u.Audio) > MaxAudioBytes {
		return fault.Newf(fault.KindAudioTooLarge, "payload is %d bytes, limit is %d", len(u.Audio), MaxAudioBytes)
	}
	if strings.Contains(strings.ToLower(u.MIMEType), "webm") {
		if len(u.Audio) < MinWebMBytes {
			return fault.Newf(fault.KindInvalidAudioFormat, "payload is %d bytes, below the plausible WebM minimum", len(u.Audio))
		}
		if binary.BigEndian.Uint32(u.Audio[:4]) != ebmlMagic {
			return fault.New(fault.KindInvalidAudioFormat, "payload does not start with an EBML header")
		}
	}
	return nil
}

// BuildUserMessage assembles the single outbound user message: free-text
// context first, then one labeled block per attached file, then the
// transcript.
func BuildUserMessage(snap contextstore.Snapshot, transcriptText string) string {
	var b strings.Builder
	if snap.UserContext != "" {
		b.WriteString("Context:\n")
		b.WriteString(snap.UserContext)
		b.WriteString("\n\n")
	}
	for _, name := range snap.FileNames() {
		fmt.Fprintf(&b, "File %q:\n%s\n\n", name, snap.Files[name])
	}
	b.WriteString(transcriptText)
	return b.String()
}

// spool writes the payload to a diagnostics file and returns its path, or ""
// when spooling failed. Spooling is best-effort; a run never fails over it.
func (p *Pipeline) spool(u types.Utterance) string {
	f, err := os.CreateTemp(p.spoolDir, "auricle-payload-*"+extFor(u.MIMEType))
	if err != nil {
		p.log.Warn("payload spool failed", "error", err)
		return ""
	}
	_, werr := f.Write(u.Audio)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		p.log.Warn("payload spool failed", "error", fmt.Errorf("write: %v, close: %v", werr, cerr))
		os.Remove(f.Name())
		return ""
	}
	return f.Name()
}

// retain adds a spool file to the diagnostics ring, deleting the oldest
// entries beyond the cap. Empty paths are ignored.
func (p *Pipeline) retain(path string) {
	if path == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spools = append(p.spools, path)
	for len(p.spools) > DiagnosticCap {
		if err := os.Remove(p.spools[0]); err != nil && !os.IsNotExist(err) {
			p.log.Warn("spool cleanup failed", "path", p.spools[0], "error", err)
		}
		p.spools = p.spools[1:]
	}
}

// Diagnostics returns the retained payload spool paths, oldest first.
func (p *Pipeline) Diagnostics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.spools))
	copy(out, p.spools)
	return out
}

// Close removes every retained spool file.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, path := range p.spools {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	p.spools = nil
	return firstErr
}

// asFault unwraps err to a *fault.Fault, classifying unknown errors.
func asFault(err error) *fault.Fault {
	var f *fault.Fault
	if errors.As(err, &f) {
		return f
	}
	return fault.FromStatus(0, err.Error())
}

func extFor(mime string) string {
	switch {
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
