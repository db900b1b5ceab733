// Package mock provides an in-memory test double for history.Store.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/pkg/types"
)

// Store is a mock history.Store keeping exchanges in memory.
// Set AppendErr or RecentErr to inject failures.
type Store struct {
	mu sync.Mutex

	// Exchanges holds every appended exchange in insertion order.
	Exchanges []types.Exchange

	// AppendErr, if non-nil, is returned by Append.
	AppendErr error

	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error

	// CloseCalls counts Close invocations.
	CloseCalls int

	nextID int64
}

var _ history.Store = (*Store)(nil)

// Append implements history.Store.
func (s *Store) Append(_ context.Context, ex *types.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.nextID++
	ex.ID = s.nextID
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	s.Exchanges = append(s.Exchanges, *ex)
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(_ context.Context, limit int) ([]types.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if limit <= 0 || limit > len(s.Exchanges) {
		limit = len(s.Exchanges)
	}
	out := make([]types.Exchange, 0, limit)
	for i := len(s.Exchanges) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.Exchanges[i])
	}
	return out, nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}
