package app_test

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"marketfeed/internal/domain"
)

// ---- fakes ----

type handler func(ctx context.Context, q url.Values) (any, error)

// fakeSource routes GetJSON by path; unknown paths answer 404.
type fakeSource struct {
	mu     sync.Mutex
	routes map[string]handler
	calls  []string
}

func newFakeSource() *fakeSource { return &fakeSource{routes: map[string]handler{}} }

func (f *fakeSource) on(path string, h handler) *fakeSource {
	f.routes[path] = h
	return f
}

func (f *fakeSource) GetJSON(ctx context.Context, path string, q url.Values) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path+"?"+q.Encode())
	h, ok := f.routes[path]
	f.mu.Unlock()
	if !ok {
		return nil, &domain.StatusError{Status: 404, URL: path}
	}
	return h(ctx, q)
}

func (f *fakeSource) callsTo(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if len(c) >= len(path)+1 && c[:len(path)+1] == path+"?" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func reply(payload any) handler {
	return func(context.Context, url.Values) (any, error) { return payload, nil }
}

func fail(status int) handler {
	return func(_ context.Context, q url.Values) (any, error) {
		return nil, &domain.StatusError{Status: status, URL: q.Encode()}
	}
}

type fakeMissLog struct {
	mu     sync.Mutex
	misses []domain.SourceMiss
}

func (f *fakeMissLog) LogMiss(ctx context.Context, m domain.SourceMiss) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.misses = append(f.misses, m)
	return nil
}

func (f *fakeMissLog) ListMisses(ctx context.Context, limit int) ([]domain.SourceMiss, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SourceMiss(nil), f.misses...), nil
}

// records builds n raw records whose createdAt steps back one hour from start.
func records(prefix string, n int, start time.Time) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{
			"id":        fmt.Sprintf("%s-%d", prefix, i),
			"title":     fmt.Sprintf("%s %d", prefix, i),
			"createdAt": start.Add(-time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}
	return out
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
