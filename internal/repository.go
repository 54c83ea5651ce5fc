package internal

import (
	"context"
	"io"
)

// Repository is the artifact store runs write into. Path is relative to
// the repository root; implementations create intermediate directories
// or key prefixes as needed.
type Repository interface {
	Write(ctx context.Context, path string, reader io.Reader) error
	Flush() error
}
