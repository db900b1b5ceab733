// Package mock provides an in-memory stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/types"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider is a mock stt.Provider. Configure Text or Err before use; requests
// are recorded for assertions.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript for every request when Err is nil.
	Text string

	// Err, when non-nil, is returned by Transcribe.
	Err error

	// Requests records every Transcribe call in order.
	Requests []stt.Request
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return types.Transcript{}, p.Err
	}
	return types.Transcript{Text: p.Text, Language: req.Language}, nil
}

// Calls returns the number of Transcribe invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
