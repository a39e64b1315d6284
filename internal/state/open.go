package state

import (
	"context"
	"fmt"
)

// Open returns the store for backend ("json" or "sqlite") at path.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case "json":
		return NewFileStore(path), nil
	case "sqlite":
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", backend)
	}
}
