package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"marketfeed/internal/domain"
)

// Refresh evicts the cached page for q and fetches it again, leaving the
// fresh page in the cache.
func (s *QueryService) Refresh(ctx context.Context, q domain.FeedQuery) (domain.FeedPage, error) {
	key := feedCacheKey(q)
	if s.cache != nil {
		if err := s.cache.Del(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache evict failed")
		}
	}
	return s.Feed(ctx, q)
}
