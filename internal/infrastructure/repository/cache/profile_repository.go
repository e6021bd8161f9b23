package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/profile"
	basecache "github.com/riskibarqy/duel-ingest/internal/platform/cache"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
)

// ProfileRepository memoizes an upstream profile lookup. Concurrent lookups of
// one player share a single upstream call; unknown players are remembered too.
type ProfileRepository struct {
	next  profile.Lookup
	cache *basecache.Store[cachedProfile]
}

type cachedProfile struct {
	value  profile.Profile
	exists bool
}

// NewProfileRepository caches lookups for ttl; ttl <= 0 keeps them for the
// life of the process.
func NewProfileRepository(next profile.Lookup, ttl time.Duration) *ProfileRepository {
	return &ProfileRepository{next: next, cache: basecache.NewStore[cachedProfile](ttl)}
}

func (r *ProfileRepository) Stats() basecache.Stats {
	return r.cache.Stats()
}

func (r *ProfileRepository) GetProfile(ctx context.Context, playerID string) (profile.Profile, error) {
	key := "profile:id:" + playerID
	cached, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (cachedProfile, error) {
		item, err := r.next.GetProfile(ctx, playerID)
		if errors.Is(err, usecase.ErrNotFound) {
			return cachedProfile{}, nil
		}
		if err != nil {
			return cachedProfile{}, err
		}
		return cachedProfile{value: item, exists: true}, nil
	})
	if err != nil {
		return profile.Profile{}, err
	}
	if !cached.exists {
		return profile.Profile{}, fmt.Errorf("%w: profile %s", usecase.ErrNotFound, playerID)
	}
	return cached.value, nil
}
