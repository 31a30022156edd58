package history

import (
	"context"
	"strings"
)

// NewStore picks a backend: postgres when a database URL is configured, a
// per-session file store when a directory is, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, dir string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(dir) != "" {
		return NewFileStore(dir)
	}
	return NewInMemoryStore(), nil
}
