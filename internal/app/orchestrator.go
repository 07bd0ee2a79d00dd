package app

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"marketfeed/internal/adapters/observability"
	"marketfeed/internal/domain"
)

const feedPath = "/feed"

var (
	cursorKeys  = []string{"nextCursor", "next_cursor", "cursor", "page.nextCursor", "meta.nextCursor"}
	coveredKeys = []string{"coveredTypes", "types", "categories"}
)

// FeedService is the aggregated-source orchestrator: it asks the backend's
// aggregated endpoint first and falls back to, or supplements with, per-type
// aggregation.
type FeedService struct {
	client         domain.SourceClient
	reg            *Registry
	norm           *Normalizer
	agg            *PerTypeAggregator
	misses         domain.MissLog // optional
	primaryTimeout time.Duration
}

type FeedOptions struct {
	APIBase        string
	PrimaryTimeout time.Duration
	MaxParallel    int
	Registry       *Registry      // DefaultRegistry when nil
	Misses         domain.MissLog // may be nil
}

func NewFeedService(c domain.SourceClient, opts FeedOptions) *FeedService {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	if opts.PrimaryTimeout <= 0 {
		opts.PrimaryTimeout = 2500 * time.Millisecond
	}
	norm := NewNormalizer(opts.APIBase, reg)
	fetcher := NewSourcePageFetcher(c, reg, norm, opts.Misses)
	return &FeedService{
		client:         c,
		reg:            reg,
		norm:           norm,
		agg:            NewPerTypeAggregator(fetcher, opts.MaxParallel),
		misses:         opts.Misses,
		primaryTimeout: opts.PrimaryTimeout,
	}
}

// primaryResult is what the aggregated endpoint answered.
type primaryResult struct {
	page    domain.FeedPage
	covered map[domain.Category]bool
}

// FetchFeed returns one page of the merged feed. Only client errors from the
// aggregated endpoint (4xx other than 404) reach the caller.
func (s *FeedService) FetchFeed(ctx context.Context, q domain.FeedQuery) (domain.FeedPage, error) {
	active := s.reg.Active(q.Types)
	if q.Limit <= 0 {
		q.Limit = defaultFeedSize
	}
	if q.Sort == "" {
		q.Sort = domain.SortNewest
	}

	// A per-type cursor belongs to the fallback lineage; the aggregated
	// endpoint cannot continue it. Only the categories it paged continue.
	if IsPerTypeCursor(q.Cursor) {
		observability.ObserveFallback("lineage")
		lineage := lineageCategories(q.Cursor, active)
		return s.agg.Page(ctx, lineage, q.Cursor, q.Limit, q.Sort, q.HasPhotos), nil
	}

	pr, err := s.fetchPrimary(ctx, active, q)
	if err != nil {
		var se *domain.StatusError
		if errors.As(err, &se) && se.ClientError() {
			return domain.FeedPage{}, err
		}
		if ctx.Err() != nil {
			return domain.FeedPage{}, ctx.Err()
		}
		reason := fallbackReason(err)
		observability.ObserveFallback(reason)
		log.Warn().Err(err).Str("reason", reason).Str("err_type", observability.LabelErr(err)).Msg("aggregated feed unavailable; using per-type aggregation")
		s.logMiss(ctx, err)
		return s.agg.Page(ctx, active, q.Cursor, q.Limit, q.Sort, q.HasPhotos), nil
	}

	var missing []domain.Category
	for _, c := range active {
		if !pr.covered[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return pr.page, nil
	}

	observability.ObserveFallback("partial")
	log.Info().Interface("missing", missing).Msg("aggregated feed missed categories; supplementing")
	sup := s.agg.Page(ctx, missing, q.Cursor, q.Limit, q.Sort, q.HasPhotos)
	return mergePages(pr.page, sup, q.Sort, q.Limit), nil
}

// fetchPrimary calls the aggregated endpoint under its own timeout.
func (s *FeedService) fetchPrimary(ctx context.Context, active []domain.Category, q domain.FeedQuery) (primaryResult, error) {
	pctx, cancel := context.WithTimeout(ctx, s.primaryTimeout)
	defer cancel()

	payload, err := s.client.GetJSON(pctx, feedPath, primaryParams(active, q))
	if err != nil {
		return primaryResult{}, err
	}
	records, ok := extractList(payload)
	if !ok {
		return primaryResult{}, errNoList
	}

	pr := primaryResult{covered: map[domain.Category]bool{}}
	pr.page.Items = make([]domain.FeedItem, 0, len(records))
	for _, r := range records {
		it := s.norm.Normalize(r, "")
		pr.covered[it.Type] = true
		pr.page.Items = append(pr.page.Items, it)
	}
	if env, isObj := payload.(map[string]any); isObj {
		pr.page.NextCursor = ptrStr(firstText(env, cursorKeys...))
		for _, c := range declaredCoverage(env) {
			pr.covered[c] = true
		}
	}
	return pr, nil
}

func primaryParams(active []domain.Category, q domain.FeedQuery) url.Values {
	v := url.Values{}
	for k, val := range q.Filters {
		v.Set(k, val)
	}
	types := make([]string, len(active))
	for i, c := range active {
		types[i] = string(c)
	}
	v.Set("types", strings.Join(types, ","))
	v.Set("sort", q.Sort)
	v.Set("limit", strconv.Itoa(q.Limit))
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.HasPhotos {
		v.Set("hasPhotos", "true")
	}
	return v
}

// declaredCoverage reads the categories the envelope says it attempted,
// as a list or a comma-separated string.
func declaredCoverage(env map[string]any) []domain.Category {
	var out []domain.Category
	for _, k := range coveredKeys {
		switch v := lookupAny(env, k).(type) {
		case []any:
			for _, el := range v {
				if s, ok := el.(string); ok {
					if c := CanonicalType(s); c.Known() {
						out = append(out, c)
					}
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				if c := CanonicalType(s); c.Known() {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// mergePages adds supplement items not already present, re-sorts, and
// truncates. The primary cursor wins when present.
func mergePages(primary, sup domain.FeedPage, sortMode string, limit int) domain.FeedPage {
	seen := make(map[string]bool, len(primary.Items))
	merged := make([]domain.FeedItem, 0, len(primary.Items)+len(sup.Items))
	for _, it := range primary.Items {
		if it.ID != nil {
			seen[string(it.Type)+"|"+*it.ID] = true
		}
		merged = append(merged, it)
	}
	for _, it := range sup.Items {
		if it.ID != nil {
			k := string(it.Type) + "|" + *it.ID
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		merged = append(merged, it)
	}
	sortItems(merged, sortMode)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	out := domain.FeedPage{Items: merged, NextCursor: primary.NextCursor}
	if out.NextCursor == nil {
		out.NextCursor = sup.NextCursor
	}
	return out
}

func fallbackReason(err error) string {
	var se *domain.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, errNoList):
		return "payload"
	case errors.As(err, &se):
		return "server"
	}
	return "network"
}

func (s *FeedService) logMiss(ctx context.Context, err error) {
	if s.misses == nil {
		return
	}
	m := domain.SourceMiss{Category: "feed", Reason: err.Error()}
	var se *domain.StatusError
	if errors.As(err, &se) {
		m.Status = se.Status
	}
	_ = s.misses.LogMiss(context.WithoutCancel(ctx), m)
}
