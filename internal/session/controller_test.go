package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/contextstore"
	histmock "github.com/MrWong99/auricle/internal/history/mock"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/pkg/audio/mock"
	"github.com/MrWong99/auricle/pkg/clock"
	"github.com/MrWong99/auricle/pkg/fault"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	sttmock "github.com/MrWong99/auricle/pkg/provider/stt/mock"
	"github.com/MrWong99/auricle/pkg/types"
	"github.com/MrWong99/auricle/pkg/vad"
)

// webmChunk is a payload chunk that passes local WebM validation.
func webmChunk(size int) []byte {
	b := make([]byte, size)
	b[0], b[1], b[2], b[3] = 0x1a, 0x45, 0xdf, 0xa3
	return b
}

// fixture wires a controller over mocks, with the credential already set.
type fixture struct {
	clk      *clock.Fake
	platform *mock.Platform
	sttP     *sttmock.Provider
	llmP     *llmmock.Provider
	pipe     *pipeline.Pipeline
	settings *session.Settings
	hist     *histmock.Store
	ctrl     *session.Controller
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewFake(),
		platform: &mock.Platform{Session: mock.NewSession("audio/webm;codecs=opus")},
		sttP:     &sttmock.Provider{Text: "hello there"},
		llmP: &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "General "},
			{Text: "Kenobi", FinishReason: "stop"},
		}},
		hist: &histmock.Store{},
	}
	f.pipe = pipeline.New(contextstore.New(nil), pipeline.WithSpoolDir(t.TempDir()))
	t.Cleanup(func() { _ = f.pipe.Close() })

	factory := func(credential, model string) (stt.Provider, llm.Provider, error) {
		return f.sttP, f.llmP, nil
	}
	f.settings = session.NewSettings(factory, f.pipe, nil)
	if err := f.settings.SetCredential("sk-test"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	opts = append(opts, session.WithHistory(f.hist))
	f.ctrl = session.New(f.platform, f.clk, f.pipe, f.settings, opts...)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

// waitFor reads controller events until one of type want arrives.
func waitFor(t *testing.T, events <-chan session.Event, want session.EventType) session.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
			if ev.Type == session.EventStreamError && want != session.EventStreamError {
				t.Fatalf("unexpected stream error while waiting for %s: %+v", want, ev.Fault)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// advanceUntil advances the fake clock in 100 ms ticks until the wanted
// event arrives.
func advanceUntil(t *testing.T, f *fixture, want session.EventType) session.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-f.ctrl.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		default:
			f.clk.Advance(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestManualToggleRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	waitFor(t, f.ctrl.Events(), session.EventUtteranceStarted)

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("stop toggle: %v", err)
	}
	waitFor(t, f.ctrl.Events(), session.EventUtteranceEnded)

	tr := waitFor(t, f.ctrl.Events(), session.EventTranscript)
	if tr.Text != "hello there" {
		t.Fatalf("transcript = %q", tr.Text)
	}
	done := waitFor(t, f.ctrl.Events(), session.EventStreamComplete)
	if done.FullText != "General Kenobi" {
		t.Fatalf("FullText = %q", done.FullText)
	}
}

func TestCompletedExchangePersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, f.ctrl.Events(), session.EventStreamComplete)

	// The append happens right after the terminal event.
	waitForCondition(t, func() bool { return len(f.hist.Exchanges) == 1 })
	ex := f.hist.Exchanges[0]
	if ex.Transcript != "hello there" || ex.Reply != "General Kenobi" {
		t.Fatalf("persisted exchange = %+v", ex)
	}
	if ex.Model != f.settings.Model() {
		t.Fatalf("exchange model = %q, want %q", ex.Model, f.settings.Model())
	}
}

func TestManualStartRefusedWhileResponseInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.settingsWithBlockingSTT(t, release)

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = mock.NewSession("audio/webm;codecs=opus")
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}

	waitForCondition(t, func() bool { return f.ctrl.ResponseInFlight() })

	if err := f.ctrl.ToggleRecording(ctx); !errors.Is(err, session.ErrResponseInFlight) {
		t.Fatalf("toggle during stream = %v, want ErrResponseInFlight", err)
	}

	close(release)
	waitFor(t, f.ctrl.Events(), session.EventStreamComplete)

	// After the terminal event, recording is allowed again.
	waitForCondition(t, func() bool { return !f.ctrl.ResponseInFlight() })
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("toggle after stream = %v", err)
	}
}

func TestInvalidCredentialClearsAndFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sttP.Err = fault.FromStatus(401, "Incorrect API key provided")

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = mock.NewSession("audio/webm;codecs=opus")
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, f.ctrl.Events(), session.EventStreamError)
	if ev.Fault.Kind != fault.KindInvalidCredential {
		t.Fatalf("fault = %+v, want InvalidCredential", ev.Fault)
	}
	waitForCondition(t, func() bool { return !f.settings.HasCredential() })

	// The next utterance fails fast without reaching the provider.
	sttCalls := f.sttP.Calls()
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatal(err)
	}
	ev = waitFor(t, f.ctrl.Events(), session.EventStreamError)
	if ev.Fault.Kind != fault.KindNoCredential {
		t.Fatalf("fault = %+v, want NoCredential", ev.Fault)
	}
	if f.sttP.Calls() != sttCalls {
		t.Fatal("provider was called without a credential")
	}
}

func TestAutoAnswerUtteranceFlow(t *testing.T) {
	f := newFixture(t, session.WithVADConfig(vad.Config{
		SpeechThreshold: 0.02,
		SilenceHangover: 2 * time.Second,
		MinSpeech:       800 * time.Millisecond,
	}))
	ctx := context.Background()

	monSession := f.platform.Session
	monSession.SetLevel(0.01)
	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	f.ctrl.SetAutoAnswer(true)

	// Hand the recorder its own session, pre-loaded with a valid payload.
	recSession := mock.NewSession("audio/webm;codecs=opus")
	recSession.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = recSession

	monSession.SetLevel(0.05)
	advanceUntil(t, f, session.EventUtteranceStarted)

	// Keep speaking past the minimum, then go silent through the hangover.
	for i := 0; i < 12; i++ {
		f.clk.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	monSession.SetLevel(0.01)
	ended := advanceUntil(t, f, session.EventUtteranceEnded)
	if ended.Discarded {
		t.Fatal("utterance discarded despite sufficient speech")
	}

	done := waitFor(t, f.ctrl.Events(), session.EventStreamComplete)
	if done.FullText != "General Kenobi" {
		t.Fatalf("FullText = %q", done.FullText)
	}
}

func TestAutoAnswerDiscardsShortSpeech(t *testing.T) {
	f := newFixture(t, session.WithVADConfig(vad.Config{
		SpeechThreshold: 0.02,
		SilenceHangover: 400 * time.Millisecond,
		MinSpeech:       3 * time.Second,
	}))
	ctx := context.Background()

	monSession := f.platform.Session
	monSession.SetLevel(0.01)
	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatal(err)
	}
	f.ctrl.SetAutoAnswer(true)

	recSession := mock.NewSession("audio/webm;codecs=opus")
	recSession.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = recSession

	monSession.SetLevel(0.05)
	advanceUntil(t, f, session.EventUtteranceStarted)

	// Only ~200 ms of speech before silence.
	f.clk.Advance(100 * time.Millisecond)
	time.Sleep(time.Millisecond)
	monSession.SetLevel(0.01)
	ended := advanceUntil(t, f, session.EventUtteranceEnded)
	if !ended.Discarded {
		t.Fatal("short utterance was not discarded")
	}

	if got := f.sttP.Calls(); got != 0 {
		t.Fatalf("pipeline invoked %d times for discarded speech", got)
	}
}

func TestVADIgnoredInManualMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	monSession := f.platform.Session
	monSession.SetLevel(0.06)
	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatal(err)
	}
	// Mode stays manual; loud audio must not start a recording.
	for i := 0; i < 20; i++ {
		f.clk.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	select {
	case ev := <-f.ctrl.Events():
		t.Fatalf("unexpected event in manual mode: %+v", ev)
	default:
	}
}

func TestStartStreamTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.StartStream(ctx); !errors.Is(err, session.ErrStreaming) {
		t.Fatalf("second StartStream = %v, want ErrStreaming", err)
	}
	if err := f.ctrl.StopStream(); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if err := f.ctrl.StopStream(); !errors.Is(err, session.ErrNotStreaming) {
		t.Fatalf("second StopStream = %v, want ErrNotStreaming", err)
	}
}

// A manual segment that captured no audio still goes through the pipeline,
// which reports it as an empty-audio fault rather than the segment silently
// vanishing.
func TestEmptyCaptureSurfacesFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	// No chunks pushed before the stop.
	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("stop toggle: %v", err)
	}

	waitFor(t, f.ctrl.Events(), session.EventUtteranceEnded)
	ev := waitFor(t, f.ctrl.Events(), session.EventStreamError)
	if ev.Fault.Kind != fault.KindEmptyAudio {
		t.Fatalf("fault = %+v, want EmptyAudio", ev.Fault)
	}
	if got := f.sttP.Calls(); got != 0 {
		t.Fatalf("provider invoked %d times for empty capture", got)
	}
}

// A manual toggle must not cut short a recording the detector started; the
// detector's own boundary stays the only finalizer for that segment.
func TestManualStopRefusedForAutoStartedRecording(t *testing.T) {
	f := newFixture(t, session.WithVADConfig(vad.Config{
		SpeechThreshold: 0.02,
		SilenceHangover: 2 * time.Second,
		MinSpeech:       800 * time.Millisecond,
	}))
	ctx := context.Background()

	monSession := f.platform.Session
	monSession.SetLevel(0.01)
	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatal(err)
	}
	f.ctrl.SetAutoAnswer(true)

	recSession := mock.NewSession("audio/webm;codecs=opus")
	recSession.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = recSession

	monSession.SetLevel(0.05)
	advanceUntil(t, f, session.EventUtteranceStarted)

	if err := f.ctrl.ToggleRecording(ctx); !errors.Is(err, session.ErrAutoAnswerActive) {
		t.Fatalf("toggle during auto recording = %v, want ErrAutoAnswerActive", err)
	}

	// The detector still finalizes the segment on silence, exactly once.
	for i := 0; i < 12; i++ {
		f.clk.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	monSession.SetLevel(0.01)
	advanceUntil(t, f, session.EventUtteranceEnded)
	waitFor(t, f.ctrl.Events(), session.EventStreamComplete)

	// Silence past the hangover again must not produce a stray boundary.
	for i := 0; i < 25; i++ {
		f.clk.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	select {
	case ev := <-f.ctrl.Events():
		t.Fatalf("unexpected event after completed utterance: %+v", ev)
	default:
	}
}

// Disabling auto-answer while the detector's recording is live must not
// orphan it: the detector boundary still finalizes the in-flight segment.
func TestAutoUtteranceFinishesAfterSwitchToManual(t *testing.T) {
	f := newFixture(t, session.WithVADConfig(vad.Config{
		SpeechThreshold: 0.02,
		SilenceHangover: 2 * time.Second,
		MinSpeech:       800 * time.Millisecond,
	}))
	ctx := context.Background()

	monSession := f.platform.Session
	monSession.SetLevel(0.01)
	if err := f.ctrl.StartStream(ctx); err != nil {
		t.Fatal(err)
	}
	f.ctrl.SetAutoAnswer(true)

	recSession := mock.NewSession("audio/webm;codecs=opus")
	recSession.Push(webmChunk(4096), f.clk.Now())
	f.platform.Session = recSession

	monSession.SetLevel(0.05)
	advanceUntil(t, f, session.EventUtteranceStarted)

	// Mode changes never abort in-flight work; the switch applies to the
	// next utterance only.
	f.ctrl.SetAutoAnswer(false)

	for i := 0; i < 12; i++ {
		f.clk.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	monSession.SetLevel(0.01)
	ended := advanceUntil(t, f, session.EventUtteranceEnded)
	if ended.Discarded {
		t.Fatal("utterance discarded despite sufficient speech")
	}
	done := waitFor(t, f.ctrl.Events(), session.EventStreamComplete)
	if done.FullText != "General Kenobi" {
		t.Fatalf("FullText = %q", done.FullText)
	}
}

// Enabling auto-answer mid-recording leaves the manual segment under manual
// control: the toggle that started it still stops it.
func TestManualUtteranceFinishesAfterAutoAnswerEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	f.platform.Session.Push(webmChunk(4096), f.clk.Now())
	waitFor(t, f.ctrl.Events(), session.EventUtteranceStarted)

	f.ctrl.SetAutoAnswer(true)

	if err := f.ctrl.ToggleRecording(ctx); err != nil {
		t.Fatalf("stop toggle after mode switch: %v", err)
	}
	waitFor(t, f.ctrl.Events(), session.EventUtteranceEnded)
	done := waitFor(t, f.ctrl.Events(), session.EventStreamComplete)
	if done.FullText != "General Kenobi" {
		t.Fatalf("FullText = %q", done.FullText)
	}
}

// settingsWithBlockingSTT swaps in a transcription provider that blocks
// until release closes, letting tests hold a response in flight.
func (f *fixture) settingsWithBlockingSTT(t *testing.T, release <-chan struct{}) {
	t.Helper()
	f.pipe.SetProviders(&blockingSTT{release: release}, f.llmP)
}

type blockingSTT struct {
	release <-chan struct{}
}

func (b *blockingSTT) Transcribe(ctx context.Context, _ stt.Request) (types.Transcript, error) {
	select {
	case <-b.release:
		return types.Transcript{Text: "hello there"}, nil
	case <-ctx.Done():
		return types.Transcript{}, ctx.Err()
	}
}

// waitForCondition polls cond until it holds or the deadline lapses.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
