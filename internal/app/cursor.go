package app

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"marketfeed/internal/domain"
)

const (
	cursorVersion   = 1
	cursorPrefix    = "pt1."
	minPageSize     = 5
	maxPageSize     = 50
	defaultFeedSize = 20
)

// CursorState is the per-type pagination position: one page index per active
// category and a page size shared by the whole lineage.
type CursorState struct {
	Version    int            `json:"v"`
	PageByType map[string]int `json:"p"`
	PageSize   int            `json:"s"`
}

// EncodeCursor serializes st into an opaque, URL-safe token.
func EncodeCursor(st CursorState) string {
	st.Version = cursorVersion
	b, _ := json.Marshal(st) // map keys marshal in sorted order, so tokens are stable
	return cursorPrefix + base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses token. ok is false for an absent, malformed, or
// foreign-version token; st is then the zero state.
func DecodeCursor(token string) (st CursorState, ok bool) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, cursorPrefix) {
		return CursorState{}, false
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, cursorPrefix))
	if err != nil {
		return CursorState{}, false
	}
	if err := json.Unmarshal(b, &st); err != nil || st.Version != cursorVersion {
		return CursorState{}, false
	}
	return st, true
}

// IsPerTypeCursor reports whether token was produced by EncodeCursor.
func IsPerTypeCursor(token string) bool {
	_, ok := DecodeCursor(token)
	return ok
}

// DefaultPageSize divides limit across n categories, clamped to [minPageSize, maxPageSize].
func DefaultPageSize(limit, n int) int {
	if limit <= 0 {
		limit = defaultFeedSize
	}
	if n <= 0 {
		n = 1
	}
	size := (limit + n - 1) / n
	if size < minPageSize {
		size = minPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return size
}

// ResolveCursor decodes token and reconciles it with active: stale categories
// are dropped, missing ones start at page 0, the page size is kept. A bad or
// absent token yields a fresh state.
func ResolveCursor(token string, active []domain.Category, limit int) CursorState {
	st, ok := DecodeCursor(token)
	if !ok || st.PageSize <= 0 {
		st = CursorState{PageSize: DefaultPageSize(limit, len(active))}
	}
	if st.PageSize > maxPageSize {
		st.PageSize = maxPageSize
	}
	pages := make(map[string]int, len(active))
	for _, c := range active {
		p := st.PageByType[string(c)]
		if p < 0 {
			p = 0
		}
		pages[string(c)] = p
	}
	st.Version = cursorVersion
	st.PageByType = pages
	return st
}

// advance returns a copy of st with every page pointer moved forward by one.
func (st CursorState) advance() CursorState {
	next := CursorState{Version: cursorVersion, PageSize: st.PageSize, PageByType: make(map[string]int, len(st.PageByType))}
	for k, p := range st.PageByType {
		next.PageByType[k] = p + 1
	}
	return next
}

// lineageCategories narrows active to the categories token was issued for,
// so categories the token never paged do not restart at page 0. active is
// returned unchanged when the two share nothing.
func lineageCategories(token string, active []domain.Category) []domain.Category {
	st, ok := DecodeCursor(token)
	if !ok {
		return active
	}
	var out []domain.Category
	for _, c := range active {
		if _, paged := st.PageByType[string(c)]; paged {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return active
	}
	return out
}
