package domain

import (
	"encoding/json"
)

// Category is a canonical feed content type.
type Category string

const (
	CategoryRental   Category = "rental"
	CategoryHomeSwap Category = "home_swap"
	CategoryService  Category = "service"
	CategoryEvent    Category = "event"
	CategoryAd       Category = "ad"
	CategoryTravel   Category = "travel"
)

// Categories lists the closed category set in canonical order.
var Categories = []Category{
	CategoryRental,
	CategoryHomeSwap,
	CategoryService,
	CategoryEvent,
	CategoryAd,
	CategoryTravel,
}

func (c Category) Known() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

const (
	SortNewest = "newest"
	Untitled   = "(Untitled)"
)

// FeedItem is the canonical shape every source record is normalized into.
// Raw keeps the record as received; canonical fields win on key collisions
// when the item is serialized.
type FeedItem struct {
	Type             Category
	ID               *string
	Title            string
	Location         *string
	Price            *float64
	CreatedAt        *string // opaque, parsed only for ordering
	Slug             *string
	ImageURL         *string
	ImageURLAbsolute *string
	DetailPath       string
	Origin           *string // travel only
	Destination      *string // travel only
	Raw              map[string]any
}

func (it FeedItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Raw)+12)
	for k, v := range it.Raw {
		out[k] = v
	}
	out["type"] = it.Type
	out["id"] = it.ID
	out["title"] = it.Title
	out["location"] = it.Location
	out["price"] = it.Price
	out["createdAt"] = it.CreatedAt
	out["slug"] = it.Slug
	out["imageUrl"] = it.ImageURL
	out["imageUrlAbsolute"] = it.ImageURLAbsolute
	out["detailPath"] = it.DetailPath
	if it.Type == CategoryTravel {
		out["origin"] = it.Origin
		out["destination"] = it.Destination
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads back what MarshalJSON wrote (used by the response cache).
// The whole object becomes Raw, so a second marshal yields the same document.
func (it *FeedItem) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	str := func(k string) *string {
		if s, ok := m[k].(string); ok {
			return &s
		}
		return nil
	}
	*it = FeedItem{
		ID:               str("id"),
		Location:         str("location"),
		CreatedAt:        str("createdAt"),
		Slug:             str("slug"),
		ImageURL:         str("imageUrl"),
		ImageURLAbsolute: str("imageUrlAbsolute"),
		Origin:           str("origin"),
		Destination:      str("destination"),
		Raw:              m,
	}
	if s := str("type"); s != nil {
		it.Type = Category(*s)
	}
	if s := str("title"); s != nil {
		it.Title = *s
	}
	if s := str("detailPath"); s != nil {
		it.DetailPath = *s
	}
	if f, ok := m["price"].(float64); ok {
		it.Price = &f
	}
	return nil
}

// FeedQuery is one request for a page of the aggregated feed.
type FeedQuery struct {
	Types     []string
	Sort      string
	Limit     int
	Cursor    string
	HasPhotos bool
	Filters   map[string]string // passed through to the aggregated endpoint
}

type FeedPage struct {
	Items      []FeedItem `json:"items"`
	NextCursor *string    `json:"nextCursor"`
}
