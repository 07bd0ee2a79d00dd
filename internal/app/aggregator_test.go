package app_test

import (
	"context"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/araddon/dateparse"

	"marketfeed/internal/app"
	"marketfeed/internal/domain"
)

func newAggregator(src domain.SourceClient) *app.PerTypeAggregator {
	return app.NewPerTypeAggregator(newFetcher(src, nil), 4)
}

func parsed(it domain.FeedItem) time.Time {
	if it.CreatedAt == nil {
		return time.Time{}
	}
	ts, err := dateparse.ParseAny(*it.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func assertNewestFirst(t *testing.T, items []domain.FeedItem) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if parsed(items[i-1]).Before(parsed(items[i])) {
			t.Fatalf("items %d/%d out of order: %v < %v", i-1, i, deref(items[i-1].CreatedAt), deref(items[i].CreatedAt))
		}
	}
}

func TestPage_MergesSortsAndAdvances(t *testing.T) {
	// limit 10 over two categories gives a page size of 5: rentals fill it, services don't
	src := newFakeSource().
		on("/rentals", reply(records("r", 5, t0))).
		on("/services", reply(map[string]any{"content": records("s", 2, t0.Add(-30*time.Minute))}))
	active := []domain.Category{domain.CategoryRental, domain.CategoryService}

	page := newAggregator(src).Page(context.Background(), active, "", 10, domain.SortNewest, false)

	if len(page.Items) != 7 {
		t.Fatalf("expected 7 items, got %d", len(page.Items))
	}
	assertNewestFirst(t, page.Items)
	if deref(page.Items[0].ID) != "r-0" || deref(page.Items[1].ID) != "s-0" {
		t.Fatalf("unexpected head %q %q", deref(page.Items[0].ID), deref(page.Items[1].ID))
	}
	if page.NextCursor == nil {
		t.Fatalf("a full category page must yield a cursor")
	}
	st, ok := app.DecodeCursor(*page.NextCursor)
	if !ok || st.PageSize != 5 || st.PageByType["rental"] != 1 || st.PageByType["service"] != 1 {
		t.Fatalf("every active category must advance uniformly, got %+v", st)
	}
}

func TestPage_NoFullPageEndsFeed(t *testing.T) {
	src := newFakeSource().
		on("/rentals", reply(records("r", 4, t0))).
		on("/services", reply(records("s", 1, t0)))
	active := []domain.Category{domain.CategoryRental, domain.CategoryService}

	page := newAggregator(src).Page(context.Background(), active, "", 10, domain.SortNewest, false)
	if page.NextCursor != nil {
		t.Fatalf("expected end of feed, got cursor %q", *page.NextCursor)
	}
	if len(page.Items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(page.Items))
	}
}

func TestPage_TruncatesToLimit(t *testing.T) {
	src := newFakeSource().
		on("/rentals", reply(records("r", 5, t0))).
		on("/ads", reply(records("a", 5, t0.Add(-10*time.Minute))))
	active := []domain.Category{domain.CategoryRental, domain.CategoryAd}

	page := newAggregator(src).Page(context.Background(), active, "", 6, domain.SortNewest, false)
	// page size is ceil(6/2)=3 floored to 5, so both pages are full
	if len(page.Items) != 6 || page.NextCursor == nil {
		t.Fatalf("expected 6 items and a cursor, got %d %v", len(page.Items), page.NextCursor)
	}
	assertNewestFirst(t, page.Items)
}

func TestPage_CategoryFailureIsIsolated(t *testing.T) {
	src := newFakeSource().
		on("/rentals", reply(records("r", 2, t0))).
		on("/travel-posts", fail(500)).
		on("/travels", fail(500)).
		on("/trips", fail(500))
	active := []domain.Category{domain.CategoryRental, domain.CategoryTravel}

	page := newAggregator(src).Page(context.Background(), active, "", 10, domain.SortNewest, false)
	if len(page.Items) != 2 {
		t.Fatalf("expected rental items despite travel failure, got %d", len(page.Items))
	}
	for _, it := range page.Items {
		if it.Type != domain.CategoryRental {
			t.Fatalf("unexpected item type %q", it.Type)
		}
	}
}

func TestPage_UnparsableTimestampsSortLast(t *testing.T) {
	src := newFakeSource().on("/ads", reply([]any{
		map[string]any{"id": "bad", "createdAt": "garbage"},
		map[string]any{"id": "none"},
		map[string]any{"id": "old", "createdAt": "2001-01-01T00:00:00Z"},
		map[string]any{"id": "new", "createdAt": "2024-01-01 08:00:00"},
		map[string]any{"id": "epoch", "createdAt": 1700000000.0},
	}))

	page := newAggregator(src).Page(context.Background(), []domain.Category{domain.CategoryAd}, "", 20, "", false)
	var ids []string
	for _, it := range page.Items {
		ids = append(ids, deref(it.ID))
	}
	want := []string{"new", "epoch", "old", "bad", "none"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got order %v want %v", ids, want)
	}
}

func TestPage_UsesCursorPages(t *testing.T) {
	var seen []string
	src := newFakeSource().on("/rentals", func(_ context.Context, q url.Values) (any, error) {
		seen = append(seen, q.Get("page")+"/"+q.Get("size"))
		return records("r", 1, t0), nil
	})
	tok := app.EncodeCursor(app.CursorState{PageByType: map[string]int{"rental": 3, "ad": 9}, PageSize: 6})

	page := newAggregator(src).Page(context.Background(), []domain.Category{domain.CategoryRental}, tok, 10, domain.SortNewest, false)
	if len(seen) != 1 || seen[0] != "3/6" {
		t.Fatalf("expected page 3 size 6, got %v", seen)
	}
	if page.NextCursor != nil {
		t.Fatalf("short page must end the feed")
	}
}

func TestPage_Idempotent(t *testing.T) {
	src := newFakeSource().
		on("/rentals", reply(records("r", 5, t0))).
		on("/home-swaps", reply(records("h", 5, t0))).
		on("/events", reply(records("e", 3, t0)))
	active := []domain.Category{domain.CategoryRental, domain.CategoryHomeSwap, domain.CategoryEvent}
	agg := newAggregator(src)

	first := agg.Page(context.Background(), active, "", 12, domain.SortNewest, false)
	for i := 0; i < 5; i++ {
		again := agg.Page(context.Background(), active, "", 12, domain.SortNewest, false)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
	if !strings.HasPrefix(deref(first.Items[0].ID), "r-") || !strings.HasPrefix(deref(first.Items[1].ID), "h-") {
		t.Fatalf("ties should keep category order, got %q %q", deref(first.Items[0].ID), deref(first.Items[1].ID))
	}
}
