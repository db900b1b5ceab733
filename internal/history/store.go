// Package history persists completed conversation turns so past exchanges
// survive restarts and can be listed over the API.
package history

import (
	"context"

	"github.com/MrWong99/auricle/pkg/types"
)

// Store persists exchanges. Implementations live in the sqlite and postgres
// subpackages; the mock subpackage provides a test double.
type Store interface {
	// Append persists one completed exchange. The store assigns ID and, when
	// CreatedAt is zero, the insertion time; both are written back to ex.
	Append(ctx context.Context, ex *types.Exchange) error

	// Recent returns up to limit exchanges, newest first.
	Recent(ctx context.Context, limit int) ([]types.Exchange, error)

	// Close releases the underlying connection.
	Close() error
}
