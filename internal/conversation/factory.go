package conversation

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from the DATABASE_URL scheme; empty means in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	lower := strings.ToLower(url)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"):
		return NewSQLiteStore(ctx, url)
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return NewRedisStore(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme in %q", redactURL(url))
	}
}

// Backend names the store kind for health and logs.
func Backend(databaseURL string) string {
	lower := strings.ToLower(strings.TrimSpace(databaseURL))
	switch {
	case lower == "":
		return "memory"
	case strings.HasPrefix(lower, "postgres"):
		return "postgres"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"):
		return "sqlite"
	case strings.HasPrefix(lower, "redis"):
		return "redis"
	default:
		return "unknown"
	}
}

func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
