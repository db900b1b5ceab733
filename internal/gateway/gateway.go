// Package gateway exposes the Auricle server surface: a WebSocket endpoint
// carrying session commands and pipeline events, and a small REST API for
// exchange history, diagnostics, and context inspection.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auricle/internal/contextstore"
	"github.com/MrWong99/auricle/internal/health"
	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
)

// defaultHistoryLimit caps GET /api/v1/history when no limit is given.
const defaultHistoryLimit = 50

// AudioFeed receives the audio stream a host shell pushes over its WebSocket:
// a format announcement, then encoded chunks and loudness readings. The
// remote audio platform (pkg/audio/remote) implements it.
type AudioFeed interface {
	Attach(mimeType string)
	PushChunk(data []byte, at time.Time)
	PushLevel(level float64)
	Detach()
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithHistory attaches the exchange history store backing GET /history.
func WithHistory(h history.Store) Option {
	return func(s *Server) { s.hist = h }
}

// WithAudioFeed attaches the sink for client-streamed audio. Without it the
// audio_* commands are rejected.
func WithAudioFeed(f AudioFeed) Option {
	return func(s *Server) { s.feed = f }
}

// WithHealth attaches the health handler serving /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server routes commands from WebSocket clients to the session controller
// and fans controller events out to every connected client.
type Server struct {
	ctrl     *session.Controller
	settings *session.Settings
	store    *contextstore.Store
	pipe     *pipeline.Pipeline
	feed     AudioFeed
	hist     history.Store
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a gateway Server. Call [Server.Pump] on its own goroutine to
// start forwarding controller events, and serve [Server.Router].
func New(ctrl *session.Controller, settings *session.Settings, store *contextstore.Store, pipe *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		ctrl:     ctrl,
		settings: settings,
		store:    store,
		pipe:     pipe,
		log:      slog.Default(),
		clients:  make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Pump forwards controller events to every connected client. It returns when
// the controller's event channel is closed.
func (s *Server) Pump() {
	for ev := range s.ctrl.Events() {
		s.broadcast(eventMessage(ev))
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		r.Get("/healthz", s.health.Healthz)
		r.Get("/readyz", s.health.Readyz)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", s.handleWS)
		r.Get("/history", s.handleHistory)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/context", s.handleContext)
	})

	return r
}

// exchangeBody is the JSON shape of one history entry.
type exchangeBody struct {
	ID         int64     `json:"id"`
	Transcript string    `json:"transcript"`
	Reply      string    `json:"reply"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	body := []exchangeBody{}
	if s.hist != nil {
		exchanges, err := s.hist.Recent(r.Context(), limit)
		if err != nil {
			s.log.Error("history query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		for _, ex := range exchanges {
			body = append(body, exchangeBody{
				ID:         ex.ID,
				Transcript: ex.Transcript,
				Reply:      ex.Reply,
				Model:      ex.Model,
				CreatedAt:  ex.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"spooled_payloads": s.pipe.Diagnostics(),
	})
}

func (s *Server) handleContext(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"user_context": snap.UserContext,
		"files":        snap.FileNames(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
