package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"marketfeed/internal/adapters/observability"
	"marketfeed/internal/domain"
)

var errNoList = errors.New("payload carries no list")

// listKeys are the envelope locations a list may hide under, tried in order.
var listKeys = []string{"content", "items", "list", "results", "data.items", "page.content", "data"}

// firstSuccess runs strategies in order and returns the first result without
// error. Remaining strategies are not run. If all fail the last error is returned.
func firstSuccess[T any](ctx context.Context, strategies []func(context.Context) (T, error)) (T, error) {
	var zero T
	last := errors.New("no strategies")
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := s(ctx)
		if err == nil {
			return v, nil
		}
		last = err
	}
	return zero, last
}

// extractList finds the record list in a heterogeneous envelope. ok is false
// when payload has no list anywhere; an envelope with only empty lists is ok.
func extractList(payload any) (records []map[string]any, ok bool) {
	switch v := payload.(type) {
	case []any:
		return toRecords(v), true
	case map[string]any:
		for _, k := range listKeys {
			arr, isArr := lookupAny(v, k).([]any)
			if !isArr {
				continue
			}
			ok = true
			if len(arr) > 0 {
				return toRecords(arr), true
			}
		}
		return []map[string]any{}, ok
	}
	return nil, false
}

func toRecords(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// SourcePageFetcher reads one page of one category from the first endpoint
// and parameter shape that answers with a list.
type SourcePageFetcher struct {
	client domain.SourceClient
	reg    *Registry
	norm   *Normalizer
	misses domain.MissLog // optional
}

func NewSourcePageFetcher(c domain.SourceClient, reg *Registry, norm *Normalizer, misses domain.MissLog) *SourcePageFetcher {
	return &SourcePageFetcher{client: c, reg: reg, norm: norm, misses: misses}
}

// Fetch never returns an error: on total failure it yields (nil, false) and
// records a miss.
func (f *SourcePageFetcher) Fetch(ctx context.Context, cat domain.Category, page, size int, hasPhotos bool) ([]domain.FeedItem, bool) {
	src, known := f.reg.Source(cat)
	if !known || len(src.Endpoints) == 0 {
		log.Warn().Str("category", string(cat)).Msg("no source registered for category")
		observability.ObserveCategory(string(cat), false)
		return nil, false
	}

	withPhotos := hasPhotos && src.PhotoFilterable
	var strategies []func(context.Context) ([]map[string]any, error)
	for _, ep := range src.Endpoints {
		for _, q := range pageVariants(page, size, withPhotos) {
			strategies = append(strategies, f.attempt(cat, ep, q))
		}
	}

	records, err := firstSuccess(ctx, strategies)
	if err != nil {
		log.Warn().
			Str("category", string(cat)).
			Int("page", page).
			Err(err).
			Msg("category source failed; contributing no items")
		observability.ObserveCategory(string(cat), false)
		f.logMiss(ctx, cat, page, err)
		return nil, false
	}
	observability.ObserveCategory(string(cat), true)

	items := make([]domain.FeedItem, 0, len(records))
	for _, r := range records {
		items = append(items, f.norm.Normalize(r, string(cat)))
	}
	return items, true
}

func (f *SourcePageFetcher) attempt(cat domain.Category, path string, q url.Values) func(context.Context) ([]map[string]any, error) {
	return func(ctx context.Context) ([]map[string]any, error) {
		payload, err := f.client.GetJSON(ctx, path, q)
		if err != nil {
			log.Debug().Str("category", string(cat)).Str("path", path).Str("params", q.Encode()).Err(err).Msg("source attempt failed")
			return nil, err
		}
		records, ok := extractList(payload)
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, errNoList)
		}
		return records, nil
	}
}

func (f *SourcePageFetcher) logMiss(ctx context.Context, cat domain.Category, page int, err error) {
	if f.misses == nil {
		return
	}
	m := domain.SourceMiss{Category: string(cat), Page: page, Reason: err.Error()}
	var se *domain.StatusError
	if errors.As(err, &se) {
		m.Status = se.Status
	}
	_ = f.misses.LogMiss(context.WithoutCancel(ctx), m)
}

// pageVariants are the parameter shapes backends are known to accept.
func pageVariants(page, size int, withPhotos bool) []url.Values {
	p, s := strconv.Itoa(page), strconv.Itoa(size)
	shapes := []url.Values{
		{"page": {p}, "size": {s}},
		{"pageNumber": {p}, "pageSize": {s}},
	}
	if withPhotos {
		for _, q := range shapes {
			q.Set("hasPhotos", "true")
		}
	}
	return shapes
}
