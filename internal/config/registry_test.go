package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	sttmock "github.com/MrWong99/auricle/pkg/provider/stt/mock"
)

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	_, err := r.CreateSTT(config.ProviderEntry{Name: "deepgram"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateChat(config.ProviderEntry{Name: "cohere"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateChat: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_CustomFactory(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotEntry config.ProviderEntry
	r.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})
	r.RegisterChat("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "fake", Model: "m1", Language: "en"}
	p, err := r.CreateSTT(entry)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.Model != "m1" || gotEntry.Language != "en" {
		t.Errorf("factory received %+v", gotEntry)
	}

	if _, err := r.CreateChat(entry); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
}

func TestDefaultRegistry_KnownNamesRegistered(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()

	// whisper-http needs no API key, so construction succeeds offline.
	p, err := r.CreateSTT(config.ProviderEntry{
		Name:    "whisper-http",
		BaseURL: "http://localhost:9000",
		Model:   "base.en",
	})
	if err != nil {
		t.Fatalf("CreateSTT(whisper-http): %v", err)
	}
	if p == nil {
		t.Fatal("nil provider")
	}

	_, err = r.CreateChat(config.ProviderEntry{Name: "not-a-backend"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown chat backend: got %v", err)
	}
}
