// Package mock provides a test double for the contextstore.Parser interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auricle/internal/contextstore"
)

// Parser is a mock implementation of contextstore.Parser.
// Texts maps a file path to the text returned for it; paths not present
// return Err (or an empty string when Err is nil).
type Parser struct {
	mu sync.Mutex

	// Texts maps path to returned text.
	Texts map[string]string

	// Err, if non-nil, is returned for every path not found in Texts.
	Err error

	// Paths records every path passed to Parse, in order.
	Paths []string
}

var _ contextstore.Parser = (*Parser)(nil)

// Parse records the call and returns the scripted text for path.
func (p *Parser) Parse(_ context.Context, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Paths = append(p.Paths, path)
	if text, ok := p.Texts[path]; ok {
		return text, nil
	}
	return "", p.Err
}

// Calls returns how many times Parse was invoked.
func (p *Parser) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Paths)
}
