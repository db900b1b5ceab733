package contextstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// PlainTextParser reads .txt and .md files as-is. It is the built-in
// fallback when no rich-format collaborator is wired in.
type PlainTextParser struct {
	// MaxBytes caps how much of a file is read. Zero means DefaultMaxBytes.
	MaxBytes int64
}

// DefaultMaxBytes is the read cap applied when PlainTextParser.MaxBytes is zero.
const DefaultMaxBytes = 1 << 20 // 1 MiB

var _ Parser = (*PlainTextParser)(nil)

// Parse implements Parser.
func (p *PlainTextParser) Parse(_ context.Context, path string) (string, error) {
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".txt") && !strings.HasSuffix(lower, ".md") {
		return "", fmt.Errorf("plaintext: unsupported file type %q", path)
	}

	max := p.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > max {
		return "", fmt.Errorf("plaintext: %q exceeds %d byte limit", path, max)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("plaintext: %q is not valid UTF-8", path)
	}
	return string(data), nil
}
