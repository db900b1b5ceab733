package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/stt"
)

// DefaultModel is the chat model used until the caller picks another.
const DefaultModel = "gpt-4o-mini"

// ProviderFactory builds the provider pair for a credential and chat model.
// Injected so tests can supply mocks without touching the network SDKs.
type ProviderFactory func(credential, model string) (stt.Provider, llm.Provider, error)

// Settings holds the mutable per-session configuration: the provider
// credential, the selected chat model, and the system prompt. There are no
// package-level globals; everything flows through this object.
//
// Changing the credential or model rebuilds the providers and installs them
// on the pipeline. Clearing the credential uninstalls them, making every
// subsequent run fail fast without a network call.
type Settings struct {
	factory ProviderFactory
	pipe    *pipeline.Pipeline
	log     *slog.Logger

	mu           sync.Mutex
	credential   string
	model        string
	systemPrompt string
}

// NewSettings creates Settings bound to the pipeline the providers are
// installed on. log may be nil.
func NewSettings(factory ProviderFactory, pipe *pipeline.Pipeline, log *slog.Logger) *Settings {
	if log == nil {
		log = slog.Default()
	}
	return &Settings{
		factory: factory,
		pipe:    pipe,
		log:     log,
		model:   DefaultModel,
	}
}

// SetCredential stores the credential and installs freshly built providers.
// An empty secret is rejected.
func (s *Settings) SetCredential(secret string) error {
	if secret == "" {
		return fmt.Errorf("session: credential must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sttP, llmP, err := s.factory(secret, s.model)
	if err != nil {
		return fmt.Errorf("session: build providers: %w", err)
	}
	s.credential = secret
	s.pipe.SetProviders(sttP, llmP)
	s.log.Info("credential configured", "model", s.model)
	return nil
}

// ClearCredential drops the stored credential and uninstalls the providers.
// Called when a provider rejects the credential, so later runs fail fast
// until the user supplies a new one.
func (s *Settings) ClearCredential() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = ""
	s.pipe.SetProviders(nil, nil)
	s.log.Warn("credential cleared")
}

// HasCredential reports whether a credential is configured.
func (s *Settings) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != ""
}

// SetModel selects the chat model. With a credential configured the
// providers are rebuilt immediately; otherwise the choice applies when one
// is set.
func (s *Settings) SetModel(model string) error {
	if model == "" {
		return fmt.Errorf("session: model must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = model
	if s.credential == "" {
		return nil
	}
	sttP, llmP, err := s.factory(s.credential, model)
	if err != nil {
		return fmt.Errorf("session: rebuild providers: %w", err)
	}
	s.pipe.SetProviders(sttP, llmP)
	return nil
}

// Model returns the selected chat model.
func (s *Settings) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetSystemPrompt replaces the system prompt sent with every chat request.
func (s *Settings) SetSystemPrompt(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = text
}

// SystemPrompt returns the current system prompt.
func (s *Settings) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}
