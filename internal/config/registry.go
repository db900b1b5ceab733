package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/llm/anyllm"
	llmoai "github.com/MrWong99/auricle/pkg/provider/llm/openai"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	sttoai "github.com/MrWong99/auricle/pkg/provider/stt/openai"
	"github.com/MrWong99/auricle/pkg/provider/stt/whisperhttp"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]func(ProviderEntry) (stt.Provider, error)
	chat map[string]func(ProviderEntry) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:  make(map[string]func(ProviderEntry) (stt.Provider, error)),
		chat: make(map[string]func(ProviderEntry) (llm.Provider, error)),
	}
}

// DefaultRegistry returns a Registry with all built-in providers registered:
// "openai" and "whisper-http" for transcription, and the any-llm-go backends
// (openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp,
// llamafile) for chat.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSTT("openai", func(e ProviderEntry) (stt.Provider, error) {
		var opts []sttoai.Option
		if e.Model != "" {
			opts = append(opts, sttoai.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, sttoai.WithLanguage(e.Language))
		}
		if e.BaseURL != "" {
			opts = append(opts, sttoai.WithBaseURL(e.BaseURL))
		}
		return sttoai.New(e.ResolveAPIKey(), opts...)
	})
	r.RegisterSTT("whisper-http", func(e ProviderEntry) (stt.Provider, error) {
		var opts []whisperhttp.Option
		if e.Model != "" {
			opts = append(opts, whisperhttp.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, whisperhttp.WithLanguage(e.Language))
		}
		return whisperhttp.New(e.BaseURL, opts...)
	})

	// The dedicated OpenAI chat provider keeps full streaming fidelity;
	// every other backend goes through any-llm-go.
	r.RegisterChat("openai", func(e ProviderEntry) (llm.Provider, error) {
		var opts []llmoai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmoai.WithBaseURL(e.BaseURL))
		}
		return llmoai.New(e.ResolveAPIKey(), e.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		backend := name
		r.RegisterChat(backend, func(e ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := e.ResolveAPIKey(); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	return r
}

// RegisterSTT registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterChat registers a chat provider factory under name.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// CreateSTT instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChat instantiates a chat provider using the factory registered under
// entry.Name.
func (r *Registry) CreateChat(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.chat[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: chat/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
