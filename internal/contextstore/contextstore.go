// Package contextstore holds the user-supplied background material that is
// prefixed onto every chat request: a free-text context blurb plus the
// extracted text of any files the user has attached.
//
// The store is in-memory only and lives for the process lifetime. All
// mutation happens through explicit operations; reads go through Snapshot,
// which returns an immutable copy safe to use while the store changes.
package contextstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Parser extracts plain text from an attached file. Rich formats (PDF,
// DOCX) are handled by external collaborators behind this interface.
type Parser interface {
	// Parse returns the extracted plain text of the file at path.
	Parse(ctx context.Context, path string) (string, error)
}

// Snapshot is a read-only view of the store at one point in time.
type Snapshot struct {
	// UserContext is the free-text blurb, possibly empty.
	UserContext string
	// Files maps attached file name to its extracted text.
	Files map[string]string
}

// FileNames returns the attached file names in sorted order.
func (s Snapshot) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for n := range s.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the snapshot carries no context at all.
func (s Snapshot) Empty() bool {
	return s.UserContext == "" && len(s.Files) == 0
}

// Store is the process-wide context store.
type Store struct {
	mu          sync.RWMutex
	userContext string
	files       map[string]string

	parser Parser
}

// New creates an empty Store. parser may be nil, in which case AddFile
// returns an error for every path.
func New(parser Parser) *Store {
	return &Store{
		files:  make(map[string]string),
		parser: parser,
	}
}

// SetUserContext replaces the free-text context.
func (s *Store) SetUserContext(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userContext = text
}

// UserContext returns the current free-text context.
func (s *Store) UserContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userContext
}

// AddFile parses the file at path and stores its extracted text under the
// file's base name. Adding a file with the same name replaces the previous
// entry.
func (s *Store) AddFile(ctx context.Context, path string) (string, error) {
	if s.parser == nil {
		return "", fmt.Errorf("contextstore: no parser configured")
	}
	text, err := s.parser.Parse(ctx, path)
	if err != nil {
		return "", fmt.Errorf("contextstore: parse %q: %w", path, err)
	}

	name := filepath.Base(path)
	s.mu.Lock()
	s.files[name] = text
	s.mu.Unlock()
	return name, nil
}

// RemoveFile drops the named file from the store. Removing an unknown name
// is a no-op.
func (s *Store) RemoveFile(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
}

// Clear drops the free-text context and all files.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userContext = ""
	s.files = make(map[string]string)
}

// Snapshot returns a copy of the current store contents. The returned map
// is owned by the caller.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	return Snapshot{UserContext: s.userContext, Files: files}
}
