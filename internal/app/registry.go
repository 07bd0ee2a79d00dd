package app

import (
	"net/url"
	"strings"

	"marketfeed/internal/domain"
)

// CategorySource describes where one category lives on the backend.
// Templates use {id} as the only placeholder.
type CategorySource struct {
	Endpoints       []string // list endpoints, tried in order
	DetailPath      string   // e.g. /rentals/{id}
	FirstPhotoPath  string   // empty when the category has no such endpoint
	PhotoFilterable bool     // hasPhotos is meaningful for this category
}

// Registry maps categories to their sources. It is read-only after construction.
type Registry struct {
	order   []domain.Category
	sources map[domain.Category]CategorySource
}

func NewRegistry(sources map[domain.Category]CategorySource) *Registry {
	r := &Registry{sources: make(map[domain.Category]CategorySource, len(sources))}
	for _, c := range domain.Categories {
		if s, ok := sources[c]; ok {
			r.order = append(r.order, c)
			r.sources[c] = copySource(s)
		}
	}
	return r
}

func DefaultRegistry() *Registry {
	return NewRegistry(map[domain.Category]CategorySource{
		domain.CategoryRental: {
			Endpoints:       []string{"/rentals", "/rental-listings", "/listings/rentals"},
			DetailPath:      "/rentals/{id}",
			FirstPhotoPath:  "/rentals/{id}/photos/first",
			PhotoFilterable: true,
		},
		domain.CategoryHomeSwap: {
			Endpoints:       []string{"/home-swaps", "/homeswaps", "/swaps"},
			DetailPath:      "/home-swaps/{id}",
			FirstPhotoPath:  "/home-swaps/{id}/photos/first",
			PhotoFilterable: true,
		},
		domain.CategoryService: {
			Endpoints:  []string{"/services", "/service-offers"},
			DetailPath: "/services/{id}",
		},
		domain.CategoryEvent: {
			Endpoints:  []string{"/events"},
			DetailPath: "/events/{id}",
		},
		domain.CategoryAd: {
			Endpoints:  []string{"/ads", "/classifieds"},
			DetailPath: "/ads/{id}",
		},
		domain.CategoryTravel: {
			Endpoints:  []string{"/travel-posts", "/travels", "/trips"},
			DetailPath: "/travel/{id}",
		},
	})
}

// Candidates returns the ordered endpoint templates for c.
func (r *Registry) Candidates(c domain.Category) []string {
	return append([]string(nil), r.sources[c].Endpoints...)
}

func (r *Registry) Source(c domain.Category) (CategorySource, bool) {
	s, ok := r.sources[c]
	if !ok {
		return CategorySource{}, false
	}
	return copySource(s), true
}

// Categories returns the registered categories in canonical order.
func (r *Registry) Categories() []domain.Category {
	return append([]domain.Category(nil), r.order...)
}

// Active canonicalizes requested type names, drops unknown or unregistered ones,
// and returns them in canonical order. An empty result means every category.
func (r *Registry) Active(requested []string) []domain.Category {
	want := requestedCategories(requested)
	var out []domain.Category
	for _, c := range r.order {
		if len(want) == 0 || want[c] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return r.Categories()
	}
	return out
}

// requestedCategories splits comma-joined type names and keeps the known ones.
func requestedCategories(requested []string) map[domain.Category]bool {
	want := map[domain.Category]bool{}
	for _, t := range requested {
		for _, part := range strings.Split(t, ",") {
			if c := CanonicalType(part); c.Known() {
				want[c] = true
			}
		}
	}
	return want
}

func (r *Registry) detailPath(c domain.Category, key string) string {
	s, ok := r.sources[c]
	if !ok || s.DetailPath == "" || key == "" {
		return "#"
	}
	return fillID(s.DetailPath, key)
}

func (r *Registry) firstPhotoPath(c domain.Category, id string) string {
	s, ok := r.sources[c]
	if !ok || s.FirstPhotoPath == "" || id == "" {
		return ""
	}
	return fillID(s.FirstPhotoPath, id)
}

func fillID(tpl, id string) string {
	return strings.ReplaceAll(tpl, "{id}", url.PathEscape(id))
}

func copySource(s CategorySource) CategorySource {
	s.Endpoints = append([]string(nil), s.Endpoints...)
	return s
}
