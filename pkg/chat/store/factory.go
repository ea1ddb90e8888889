package store

import (
	"context"
	"fmt"
)

// Open selects a backend by name: "postgres", "sqlite" or "memory".
func Open(ctx context.Context, backend, postgresDSN, sqlitePath string) (Store, error) {
	switch backend {
	case "postgres":
		return NewPostgres(ctx, postgresDSN)
	case "sqlite":
		return NewSQLite(ctx, sqlitePath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
