package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"marketfeed/internal/domain"
)

/********** alias registries (single source of truth) **********/

var typeAliases = map[string]domain.Category{
	"rental":          domain.CategoryRental,
	"rentals":         domain.CategoryRental,
	"rent":            domain.CategoryRental,
	"rental_listing":  domain.CategoryRental,
	"rental_listings": domain.CategoryRental,
	"listing_rental":  domain.CategoryRental,
	"rentallist":      domain.CategoryRental,
	"rental_list":     domain.CategoryRental,
	"rental_post":     domain.CategoryRental,

	"home_swap":     domain.CategoryHomeSwap,
	"home_swaps":    domain.CategoryHomeSwap,
	"homeswap":      domain.CategoryHomeSwap,
	"swap":          domain.CategoryHomeSwap,
	"house_swap":    domain.CategoryHomeSwap,
	"home_exchange": domain.CategoryHomeSwap,
	"swap_listing":  domain.CategoryHomeSwap,

	"service":       domain.CategoryService,
	"services":      domain.CategoryService,
	"service_offer": domain.CategoryService,
	"service_post":  domain.CategoryService,

	"event":  domain.CategoryEvent,
	"events": domain.CategoryEvent,
	"meetup": domain.CategoryEvent,

	"ad":            domain.CategoryAd,
	"ads":           domain.CategoryAd,
	"advert":        domain.CategoryAd,
	"advertisement": domain.CategoryAd,
	"classified":    domain.CategoryAd,
	"classifieds":   domain.CategoryAd,
	"classified_ad": domain.CategoryAd,

	"travel":      domain.CategoryTravel,
	"travels":     domain.CategoryTravel,
	"travel_post": domain.CategoryTravel,
	"trip":        domain.CategoryTravel,
	"trips":       domain.CategoryTravel,
	"ride":        domain.CategoryTravel,
}

// compactTypeAliases is typeAliases keyed without separators ("rentallisting").
var compactTypeAliases = func() map[string]domain.Category {
	out := make(map[string]domain.Category, len(typeAliases))
	for k, v := range typeAliases {
		out[strings.ReplaceAll(k, "_", "")] = v
	}
	return out
}()

var declaredTypeKeys = []string{"feedType", "itemType", "type", "kind", "_type", "category"}

var genericIDAliases = []string{"id", "_id", "uuid", "publicId", "listingId", "postId", "itemId"}

var idAliasesByType = map[domain.Category][]string{
	domain.CategoryRental:   {"rentalId", "rental_id"},
	domain.CategoryHomeSwap: {"homeSwapId", "home_swap_id", "swapId"},
	domain.CategoryService:  {"serviceId", "service_id"},
	domain.CategoryEvent:    {"eventId", "event_id"},
	domain.CategoryAd:       {"adId", "ad_id", "classifiedId"},
	domain.CategoryTravel:   {"travelId", "travel_id", "tripId"},
}

var itemAliases = map[string][]string{
	"title":     {"title", "name", "headline", "subject", "label", "listingTitle"},
	"slug":      {"slug", "handle", "permalink"},
	"location":  {"location", "city", "address", "area", "neighborhood", "location.city", "location.name", "address.city", "place"},
	"createdAt": {"createdAt", "created_at", "publishedAt", "published_at", "postedAt", "datePosted", "date", "createdDate", "timestamp", "updatedAt"},
	"price":     {"price", "price.amount", "pricePerNight", "nightlyPrice", "monthlyRent", "rent", "amount", "cost", "fee"},
	"origin": {
		"origin", "from", "originCity", "fromCity", "departureCity", "departure",
		"startCity", "startLocation", "origin.city", "origin.name",
		"from.city", "departure.city", "route.from", "route.from.city", "route.origin",
		"route.origin.city", "trip.from", "trip.origin",
	},
	"destination": {
		"destination", "to", "destinationCity", "toCity", "arrivalCity", "arrival",
		"endCity", "endLocation", "destination.city", "destination.name",
		"to.city", "arrival.city", "route.to", "route.to.city", "route.destination",
		"route.destination.city", "trip.to", "trip.destination",
	},
	// image chain, in priority order
	"photoArrays": {"photos", "images", "pictures", "gallery", "media", "photoUrls", "imageUrls"},
	"firstPhoto":  {"firstPhoto", "firstPhotoUrl", "primaryPhoto", "mainPhoto", "coverPhoto", "thumbnail"},
	"legacyImage": {"imageUrl", "image_url", "image", "photoUrl", "photo", "coverUrl", "coverImage", "thumbnailUrl", "picture"},
	"photoRef":    {"url", "path", "src", "href", "imageUrl", "fileUrl", "location"},
}

const missingSide = "—"

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps. A literal key wins
// over the nested interpretation.
func lookupAny(m map[string]any, path string) any {
	if v, ok := m[path]; ok {
		return v
	}
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupText returns the trimmed string or number at path, or "".
func lookupText(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func firstText(m map[string]any, paths ...string) string {
	for _, p := range paths {
		if s := lookupText(m, p); s != "" {
			return s
		}
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) *string {
	return ptrStr(firstText(m, aliases[key]...))
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// getFloatFlexible: number from several paths (float64/int/string like "8,0" or "$1,200.50").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(v), "$€£"))
			if s == "" {
				continue
			}
			if strings.Contains(s, ".") {
				s = strings.ReplaceAll(s, ",", "")
			} else {
				s = strings.ReplaceAll(s, ",", ".")
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// photoRef reads a photo given either as a string or as an object with a url-like field.
func photoRef(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return firstText(t, itemAliases["photoRef"]...)
	}
	return ""
}

/********** type canonicalization **********/

// CanonicalType maps a raw type name onto the category set. Unknown names are
// returned normalized but otherwise unchanged; callers check Known().
func CanonicalType(raw string) domain.Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '.', '/', ':':
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if c, ok := typeAliases[s]; ok {
		return c
	}
	if c, ok := compactTypeAliases[strings.ReplaceAll(s, "_", "")]; ok {
		return c
	}
	return domain.Category(s)
}

// declaredType is the record's own type claim: the first field naming a known
// category, else the first non-empty one.
func declaredType(raw map[string]any) domain.Category {
	var fallback domain.Category
	for _, k := range declaredTypeKeys {
		c := CanonicalType(lookupText(raw, k))
		if c.Known() {
			return c
		}
		if fallback == "" {
			fallback = c
		}
	}
	return fallback
}

/********** item normalizer **********/

// Normalizer turns raw source records into canonical feed items. It is pure
// and safe for concurrent use.
type Normalizer struct {
	base string
	reg  *Registry
}

// NewNormalizer resolves relative media against base. A base that is not an
// absolute URL disables resolution, so imageUrlAbsolute stays nil.
func NewNormalizer(base string, reg *Registry) *Normalizer {
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		base = ""
	}
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Normalizer{base: strings.TrimRight(base, "/"), reg: reg}
}

// Normalize maps raw onto a FeedItem. hint is the category the record was
// fetched under; when empty the record's own type fields decide.
func (n *Normalizer) Normalize(raw map[string]any, hint string) domain.FeedItem {
	if raw == nil {
		raw = map[string]any{}
	}
	typ := CanonicalType(hint)
	if typ == "" {
		typ = declaredType(raw)
	}

	it := domain.FeedItem{
		Type:      typ,
		ID:        resolveID(raw, typ),
		Location:  firstNonEmptyAlias(raw, itemAliases, "location"),
		Price:     getFloatFlexible(raw, itemAliases["price"]...),
		CreatedAt: firstNonEmptyAlias(raw, itemAliases, "createdAt"),
		Slug:      firstNonEmptyAlias(raw, itemAliases, "slug"),
		Raw:       raw,
	}

	title := firstText(raw, itemAliases["title"]...)
	if typ == domain.CategoryTravel {
		it.Origin = firstNonEmptyAlias(raw, itemAliases, "origin")
		it.Destination = firstNonEmptyAlias(raw, itemAliases, "destination")
		if title == "" && (it.Origin != nil || it.Destination != nil) {
			title = fmt.Sprintf("%s → %s", orDash(it.Origin), orDash(it.Destination))
		}
	}
	if title == "" {
		title = domain.Untitled
	}
	it.Title = title

	it.ImageURL = n.resolveImage(raw, typ, deref(it.ID))
	if it.ImageURL != nil {
		it.ImageURLAbsolute = n.absoluteURL(*it.ImageURL)
	}

	key := deref(it.ID)
	if key == "" {
		key = deref(it.Slug)
	}
	it.DetailPath = n.reg.detailPath(typ, key)
	return it
}

func resolveID(raw map[string]any, typ domain.Category) *string {
	if s := firstText(raw, idAliasesByType[typ]...); s != "" {
		return &s
	}
	return ptrStr(firstText(raw, genericIDAliases...))
}

func orDash(p *string) string {
	if p == nil {
		return missingSide
	}
	return *p
}

// resolveImage walks the image chain: photo arrays, a first-photo field,
// legacy direct fields, then the category's first-photo endpoint.
func (n *Normalizer) resolveImage(raw map[string]any, typ domain.Category, id string) *string {
	for _, k := range itemAliases["photoArrays"] {
		if arr, ok := lookupAny(raw, k).([]any); ok && len(arr) > 0 {
			if s := photoRef(arr[0]); s != "" {
				return &s
			}
		}
	}
	for _, k := range itemAliases["firstPhoto"] {
		if s := photoRef(lookupAny(raw, k)); s != "" {
			return &s
		}
	}
	if s := firstNonEmptyAlias(raw, itemAliases, "legacyImage"); s != nil {
		return s
	}
	return ptrStr(n.reg.firstPhotoPath(typ, id))
}

// absoluteURL qualifies ref against the API base. Absolute and data: URLs pass through.
func (n *Normalizer) absoluteURL(ref string) *string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	low := strings.ToLower(ref)
	if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") || strings.HasPrefix(low, "data:") {
		return &ref
	}
	if n.base == "" {
		return nil
	}
	if strings.HasPrefix(ref, "//") {
		scheme := n.base[:strings.Index(n.base, ":")]
		out := scheme + ":" + ref
		return &out
	}
	out := n.base + "/" + strings.TrimLeft(ref, "/")
	return &out
}
