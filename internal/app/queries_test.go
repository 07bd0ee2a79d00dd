package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketfeed/internal/app"
	"marketfeed/internal/domain"
)

// ---- fakes ----

type fakeFeed struct {
	page  domain.FeedPage
	err   error
	calls atomic.Int32
	gate  chan struct{} // when set, FetchFeed blocks until closed
}

func (f *fakeFeed) FetchFeed(ctx context.Context, q domain.FeedQuery) (domain.FeedPage, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.page, f.err
}

type fakeCache struct {
	mu    sync.Mutex
	store map[string]any
	dels  int
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.FeedPage); ok {
		*d = v.(domain.FeedPage)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels++
	delete(c.store, key)
	return nil
}

func pageOf(titles ...string) domain.FeedPage {
	p := domain.FeedPage{}
	for _, title := range titles {
		p.Items = append(p.Items, domain.FeedItem{Type: domain.CategoryAd, Title: title, DetailPath: "#"})
	}
	return p
}

// ---- tests ----

func TestFeed_CacheMissThenHit(t *testing.T) {
	feed := &fakeFeed{page: pageOf("Bike")}
	cache := &fakeCache{}
	q := app.NewQueryService(feed, cache, 30*time.Second, nil)
	query := domain.FeedQuery{Types: []string{"ad"}, Limit: 10}

	out, err := q.Feed(context.Background(), query)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Title != "Bike" {
		t.Fatalf("unexpected page: %+v", out)
	}

	// Change the source; second read must come from cache
	feed.page = pageOf("SHOULD NOT SEE THIS")
	out2, _ := q.Feed(context.Background(), query)
	if out2.Items[0].Title != "Bike" {
		t.Fatalf("expected cached title Bike, got %s", out2.Items[0].Title)
	}
	if feed.calls.Load() != 1 {
		t.Fatalf("expected one engine call, got %d", feed.calls.Load())
	}
}

func TestFeed_CacheKeyIgnoresOrdering(t *testing.T) {
	feed := &fakeFeed{page: pageOf("x")}
	q := app.NewQueryService(feed, &fakeCache{}, time.Minute, nil)

	_, _ = q.Feed(context.Background(), domain.FeedQuery{Types: []string{"ad", "event"}, Filters: map[string]string{"a": "1", "b": "2"}})
	_, _ = q.Feed(context.Background(), domain.FeedQuery{Types: []string{"event", "ad"}, Filters: map[string]string{"b": "2", "a": "1"}})
	if feed.calls.Load() != 1 {
		t.Fatalf("equivalent queries should share a cache entry, got %d calls", feed.calls.Load())
	}

	_, _ = q.Feed(context.Background(), domain.FeedQuery{Types: []string{"ad", "event"}, Cursor: "next"})
	if feed.calls.Load() != 2 {
		t.Fatalf("a different cursor is a different page")
	}

	_, _ = q.Feed(context.Background(), domain.FeedQuery{Types: []string{"Events", "classifieds"}, Sort: domain.SortNewest, Filters: map[string]string{"a": "1", "b": "2"}})
	if feed.calls.Load() != 2 {
		t.Fatalf("aliases and the default sort should share a cache entry, got %d calls", feed.calls.Load())
	}
}

func TestFeed_CacheKeyMatchesActiveCategories(t *testing.T) {
	feed := &fakeFeed{page: pageOf("x")}
	q := app.NewQueryService(feed, &fakeCache{}, time.Minute, nil)
	ctx := context.Background()

	_, _ = q.Feed(ctx, domain.FeedQuery{Types: []string{"rental", "service"}})
	_, _ = q.Feed(ctx, domain.FeedQuery{Types: []string{"rental,service"}})
	_, _ = q.Feed(ctx, domain.FeedQuery{Types: []string{"services, rentals", "spaceship", "rental"}})
	if feed.calls.Load() != 1 {
		t.Fatalf("comma-joined, aliased and unknown entries should resolve to one key, got %d calls", feed.calls.Load())
	}

	// nothing known means every category, same as no types at all
	_, _ = q.Feed(ctx, domain.FeedQuery{})
	_, _ = q.Feed(ctx, domain.FeedQuery{Types: []string{"spaceship"}})
	if feed.calls.Load() != 2 {
		t.Fatalf("unknown-only types should share the all-categories key, got %d calls", feed.calls.Load())
	}
}

func TestFeed_ShortTTLDisablesCache(t *testing.T) {
	feed := &fakeFeed{page: pageOf("a")}
	cache := &fakeCache{}
	q := app.NewQueryService(feed, cache, 500*time.Millisecond, nil)

	for i := 0; i < 3; i++ {
		if _, err := q.Feed(context.Background(), domain.FeedQuery{}); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	if feed.calls.Load() != 3 || len(cache.store) != 0 {
		t.Fatalf("expected no caching, calls=%d stored=%d", feed.calls.Load(), len(cache.store))
	}
}

func TestFeed_NilCacheAndEmptyItems(t *testing.T) {
	q := app.NewQueryService(&fakeFeed{}, nil, time.Minute, nil)
	out, err := q.Feed(context.Background(), domain.FeedQuery{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Items == nil || len(out.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %#v", out.Items)
	}
}

func TestFeed_ErrorsAreNotCached(t *testing.T) {
	boom := &domain.StatusError{Status: 400, URL: "/feed"}
	feed := &fakeFeed{err: boom}
	cache := &fakeCache{}
	q := app.NewQueryService(feed, cache, time.Minute, nil)

	if _, err := q.Feed(context.Background(), domain.FeedQuery{}); !errors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if len(cache.store) != 0 {
		t.Fatalf("errors must not be cached")
	}

	feed.err = nil
	feed.page = pageOf("ok")
	out, err := q.Feed(context.Background(), domain.FeedQuery{})
	if err != nil || len(out.Items) != 1 {
		t.Fatalf("expected recovery, got %v %+v", err, out)
	}
}

func TestFeed_ConcurrentCallsShareOneFetch(t *testing.T) {
	feed := &fakeFeed{page: pageOf("shared"), gate: make(chan struct{})}
	q := app.NewQueryService(feed, nil, 0, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]domain.FeedPage, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = q.Feed(context.Background(), domain.FeedQuery{Types: []string{"ad"}})
		}(i)
	}
	// let the goroutines pile up behind the first call
	time.Sleep(50 * time.Millisecond)
	close(feed.gate)
	wg.Wait()

	if c := feed.calls.Load(); c < 1 || c > n {
		t.Fatalf("unexpected call count %d", c)
	}
	for i, r := range results {
		if len(r.Items) != 1 || r.Items[0].Title != "shared" {
			t.Fatalf("result %d: %+v", i, r)
		}
	}
	results[0].Items[0].Title = "mutated"
	if results[1].Items[0].Title != "shared" {
		t.Fatalf("callers must not share item slices")
	}
}

func TestRefresh_EvictsAndRefetches(t *testing.T) {
	feed := &fakeFeed{page: pageOf("old")}
	cache := &fakeCache{}
	q := app.NewQueryService(feed, cache, time.Minute, nil)
	query := domain.FeedQuery{Types: []string{"event"}}

	_, _ = q.Feed(context.Background(), query)
	feed.page = pageOf("new")

	out, err := q.Refresh(context.Background(), query)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Items[0].Title != "new" || cache.dels != 1 {
		t.Fatalf("expected refreshed page, got %+v (dels=%d)", out, cache.dels)
	}
	again, _ := q.Feed(context.Background(), query)
	if again.Items[0].Title != "new" {
		t.Fatalf("refresh should leave the fresh page cached")
	}
}

func TestMisses(t *testing.T) {
	q := app.NewQueryService(&fakeFeed{}, nil, 0, nil)
	out, err := q.Misses(context.Background(), 10)
	if err != nil || out == nil || len(out) != 0 {
		t.Fatalf("expected empty list without a miss log, got %v %v", out, err)
	}

	ml := &fakeMissLog{}
	_ = ml.LogMiss(context.Background(), domain.SourceMiss{Category: "rental", Status: 503})
	q = app.NewQueryService(&fakeFeed{}, nil, 0, ml)
	out, _ = q.Misses(context.Background(), 10)
	if len(out) != 1 || out[0].Category != "rental" {
		t.Fatalf("unexpected misses %+v", out)
	}
}
