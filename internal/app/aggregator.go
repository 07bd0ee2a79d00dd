package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"marketfeed/internal/domain"
)

// categoryPage is one branch's outcome; each branch owns its slot.
type categoryPage struct {
	items []domain.FeedItem
	ok    bool
}

// PerTypeAggregator pages every active category in parallel and merges the results.
type PerTypeAggregator struct {
	fetcher     *SourcePageFetcher
	maxParallel int
}

func NewPerTypeAggregator(f *SourcePageFetcher, maxParallel int) *PerTypeAggregator {
	return &PerTypeAggregator{fetcher: f, maxParallel: maxParallel}
}

// Page returns up to limit items across active, starting at cursor. NextCursor
// is nil once no category filled its page.
func (a *PerTypeAggregator) Page(ctx context.Context, active []domain.Category, cursor string, limit int, sortMode string, hasPhotos bool) domain.FeedPage {
	if limit <= 0 {
		limit = defaultFeedSize
	}
	st := ResolveCursor(cursor, active, limit)

	results := make([]categoryPage, len(active))
	g, gctx := errgroup.WithContext(ctx)
	if a.maxParallel > 0 {
		g.SetLimit(a.maxParallel)
	}
	for i, cat := range active {
		i, cat := i, cat
		g.Go(func() error {
			items, ok := a.fetcher.Fetch(gctx, cat, st.PageByType[string(cat)], st.PageSize, hasPhotos)
			results[i] = categoryPage{items: items, ok: ok}
			return nil // non-fatal: a failed category only contributes nothing
		})
	}
	_ = g.Wait()

	var merged []domain.FeedItem
	more := false
	failed := 0
	for _, r := range results {
		if !r.ok {
			failed++
		}
		if len(r.items) >= st.PageSize {
			more = true
		}
		merged = append(merged, r.items...)
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Int("categories", len(active)).Msg("per-type aggregation partially failed")
	}

	sortItems(merged, sortMode)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	page := domain.FeedPage{Items: merged}
	if more {
		next := EncodeCursor(st.advance())
		page.NextCursor = &next
	}
	return page
}

// parsedTime reads createdAt for ordering. Missing or unparsable values are the zero time.
func parsedTime(it domain.FeedItem) time.Time {
	if it.CreatedAt == nil || strings.TrimSpace(*it.CreatedAt) == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(*it.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sortItems orders newest first for SortNewest (the default) and leaves
// merge order untouched for any other mode. The sort is stable.
func sortItems(items []domain.FeedItem, mode string) {
	if mode != "" && mode != domain.SortNewest {
		return
	}
	keys := make([]time.Time, len(items))
	for i := range items {
		keys[i] = parsedTime(items[i])
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]].After(keys[idx[b]]) })
	sorted := make([]domain.FeedItem, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}
