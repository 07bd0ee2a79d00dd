package domain

import (
	"context"
	"net/url"
)

// SourceClient performs GETs against the marketplace backend and returns the
// decoded JSON body (map[string]any, []any, or nil for an empty body).
type SourceClient interface {
	GetJSON(ctx context.Context, path string, q url.Values) (any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// MissLog records sources that could not be served.
type MissLog interface {
	LogMiss(ctx context.Context, m SourceMiss) error
	ListMisses(ctx context.Context, limit int) ([]SourceMiss, error)
}

// FeedFetcher is what the rest of the application consumes.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, q FeedQuery) (FeedPage, error)
}
