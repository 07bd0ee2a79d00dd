// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"marketfeed/internal/app"
	"marketfeed/internal/domain"
)

type Handlers struct {
	Q            *app.QueryService
	DefaultLimit int // 20 when zero
	MaxLimit     int // 100 when zero
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// reserved query parameters; everything else is forwarded as a filter
var feedParams = map[string]bool{"types": true, "type": true, "sort": true, "limit": true, "cursor": true, "hasPhotos": true}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/feed", h.getFeed)
	s.mux.Get("/v1/sources/misses", h.listMisses)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

// parseFeedQuery reads the feed parameters. types may be repeated or
// comma-separated.
func (h *Handlers) parseFeedQuery(r *http.Request) (domain.FeedQuery, string) {
	qs := r.URL.Query()
	q := domain.FeedQuery{Sort: qs.Get("sort"), Cursor: qs.Get("cursor")}

	for _, k := range []string{"types", "type"} {
		for _, v := range qs[k] {
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					q.Types = append(q.Types, t)
				}
			}
		}
	}

	maxLimit := h.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}
	q.Limit = h.DefaultLimit
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if ls := qs.Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > maxLimit {
			return q, "limit must be an integer between 1 and " + strconv.Itoa(maxLimit)
		}
		q.Limit = l
	}

	if hp := qs.Get("hasPhotos"); hp != "" {
		b, err := strconv.ParseBool(hp)
		if err != nil {
			return q, "hasPhotos must be a boolean"
		}
		q.HasPhotos = b
	}

	for k, vs := range qs {
		if feedParams[k] || len(vs) == 0 || vs[0] == "" {
			continue
		}
		if q.Filters == nil {
			q.Filters = map[string]string{}
		}
		q.Filters[k] = vs[0]
	}
	return q, ""
}

func (h *Handlers) getFeed(w http.ResponseWriter, r *http.Request) {
	q, bad := h.parseFeedQuery(r)
	if bad != "" {
		writeProblem(w, http.StatusBadRequest, "Invalid query", bad)
		return
	}

	out, err := h.Q.Feed(r.Context(), q)
	if err != nil {
		h.feedError(w, r, err)
		return
	}
	writeJSON(w, r, out)
}

// feedError maps engine errors: upstream client errors pass through with
// their status, everything else is a bad gateway.
func (h *Handlers) feedError(w http.ResponseWriter, r *http.Request, err error) {
	var se *domain.StatusError
	switch {
	case errors.As(err, &se) && se.ClientError():
		writeProblem(w, se.Status, "Rejected by source", se.Body)
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Gateway Timeout", "feed sources did not answer in time")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		log.Debug().Str("path", r.URL.Path).Msg("request canceled")
	default:
		log.Error().Err(err).Msg("feed fetch failed")
		writeProblem(w, http.StatusBadGateway, "Bad Gateway", "feed sources unavailable")
	}
}

func (h *Handlers) listMisses(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		limit = l
	}

	out, err := h.Q.Misses(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list misses failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "could not read miss log")
		return
	}
	writeJSON(w, r, map[string]any{"items": out})
}
