// Package naming reverse-resolves wallet addresses to human-readable names.
package naming

import (
	"context"
	"errors"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
)

// ErrNotFound means the naming service answered and has no name for the
// address. Any other error means the answer is unknown.
var ErrNotFound = errors.New("name not found")

// Resolver is one naming tier.
type Resolver interface {
	Source() model.AliasSource
	Lookup(ctx context.Context, address string) (string, error)
}
