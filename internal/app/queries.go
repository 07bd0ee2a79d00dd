package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"marketfeed/internal/domain"
)

// QueryService fronts the feed engine with a short-lived response cache.
// Concurrent identical queries share one engine call.
type QueryService struct {
	feed     domain.FeedFetcher
	cache    domain.Cache // may be nil
	cacheTTL time.Duration
	misses   domain.MissLog // may be nil
	group    singleflight.Group
}

func NewQueryService(f domain.FeedFetcher, c domain.Cache, ttl time.Duration, misses domain.MissLog) *QueryService {
	return &QueryService{feed: f, cache: c, cacheTTL: ttl, misses: misses}
}

func (s *QueryService) Feed(ctx context.Context, q domain.FeedQuery) (domain.FeedPage, error) {
	key := feedCacheKey(q)
	caching := s.cache != nil && s.cacheTTL >= time.Second

	if caching {
		var out domain.FeedPage
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		page, err := s.feed.FetchFeed(ctx, q)
		if err != nil {
			return domain.FeedPage{}, err
		}
		if caching {
			// optional size guard
			if b, _ := json.Marshal(page); len(b) < 1_000_000 {
				_ = s.cache.Set(ctx, key, page, int(s.cacheTTL.Seconds()))
			}
		}
		return page, nil
	})
	if err != nil {
		return domain.FeedPage{}, err
	}
	return copyFeedPage(v.(domain.FeedPage)), nil
}

// Misses lists recent source failures; empty when no miss log is configured.
func (s *QueryService) Misses(ctx context.Context, limit int) ([]domain.SourceMiss, error) {
	if s.misses == nil {
		return []domain.SourceMiss{}, nil
	}
	return s.misses.ListMisses(ctx, limit)
}

// feedCacheKey resolves types the way Registry.Active does, so requests
// naming the same categories share a key. Filter order is ignored too.
func feedCacheKey(q domain.FeedQuery) string {
	want := requestedCategories(q.Types)
	types := make([]string, 0, len(want))
	for c := range want {
		types = append(types, string(c))
	}
	sort.Strings(types)
	sortMode := q.Sort
	if sortMode == "" {
		sortMode = domain.SortNewest
	}
	filters := make([]string, 0, len(q.Filters))
	for k, v := range q.Filters {
		filters = append(filters, k+"="+v)
	}
	sort.Strings(filters)
	sig := strings.Join([]string{
		strings.Join(types, ","),
		sortMode,
		strconv.Itoa(q.Limit),
		q.Cursor,
		strconv.FormatBool(q.HasPhotos),
		strings.Join(filters, "&"),
	}, "|")
	sum := sha1.Sum([]byte(sig))
	return "feed:" + hex.EncodeToString(sum[:])
}

// copy the item slice so callers sharing a singleflight result don't alias it
func copyFeedPage(in domain.FeedPage) domain.FeedPage {
	out := domain.FeedPage{NextCursor: in.NextCursor, Items: make([]domain.FeedItem, len(in.Items))}
	copy(out.Items, in.Items)
	return out
}
