// Package checkpoint defines where processor checkpoints are persisted.
package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no checkpoint exists under the name.
var ErrNotFound = errors.New("checkpoint not found")

// Store saves and loads named checkpoint blobs.
type Store interface {
	// Save replaces the checkpoint stored under name.
	Save(ctx context.Context, name string, data []byte) error
	// Load returns the checkpoint stored under name, or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
}
