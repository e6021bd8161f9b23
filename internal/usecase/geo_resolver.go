package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	crerr "github.com/cockroachdb/errors"
	"github.com/riskibarqy/duel-ingest/internal/platform/cache"
	"github.com/riskibarqy/duel-ingest/internal/platform/geo"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/metrics"
	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
)

const datasetFlightKey = "country-boundaries"

// errRemoteUnanswered keeps a failed fallback lookup out of the point cache.
var errRemoteUnanswered = errors.New("reverse geocode fallback did not answer")

type GeoResolverConfig struct {
	Loader   BoundaryLoader
	Fallback ReverseGeocoder
	Logger   *logging.Logger
}

// GeoResolver maps coordinates to ISO2 country codes. Results, including
// "no country", are memoized per rounded coordinate for the resolver's
// lifetime, except when the remote fallback failed to answer. The boundary
// index is loaded once and shared read-only.
type GeoResolver struct {
	loader   BoundaryLoader
	fallback ReverseGeocoder
	logger   *logging.Logger

	resolved *cache.Store[string]
	index    atomic.Pointer[geo.Index]
	loads    resilience.Flight[*geo.Index]
}

type GeoResolverStats struct {
	DatasetLoaded bool  `json:"dataset_loaded"`
	Features      int   `json:"features"`
	CachedPoints  int   `json:"cached_points"`
	CacheHits     int64 `json:"cache_hits"`
}

func NewGeoResolver(cfg GeoResolverConfig) *GeoResolver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &GeoResolver{
		loader:   cfg.Loader,
		fallback: cfg.Fallback,
		logger:   logger,
		resolved: cache.NewStore[string](0),
	}
}

// ResolveCountry returns "" when the point is invalid or belongs to no
// country. The only error is a failed boundary dataset load, which is not
// remembered: the next call tries the load again.
func (r *GeoResolver) ResolveCountry(ctx context.Context, lat, lng float64) (string, error) {
	p, ok := geo.NormalizeCoordinate(lat, lng)
	if !ok {
		metrics.GeoResolutionsTotal.WithLabelValues("invalid").Inc()
		return "", nil
	}

	key := geo.RoundKey(p)
	if code, ok := r.resolved.Get(ctx, key); ok {
		metrics.GeoResolutionsTotal.WithLabelValues("cache").Inc()
		return code, nil
	}

	idx, err := r.ensureIndex(ctx)
	if err != nil {
		return "", err
	}

	code, err := r.resolved.GetOrLoad(ctx, key, func(ctx context.Context) (string, error) {
		if code, ok := idx.Lookup(p); ok {
			metrics.GeoResolutionsTotal.WithLabelValues("polygon").Inc()
			return code, nil
		}
		code, err := r.remoteLookup(ctx, p)
		if err != nil {
			metrics.GeoResolutionsTotal.WithLabelValues("unanswered").Inc()
			return "", err
		}
		if code != "" {
			metrics.GeoResolutionsTotal.WithLabelValues("remote").Inc()
			return code, nil
		}
		metrics.GeoResolutionsTotal.WithLabelValues("none").Inc()
		return "", nil
	})
	if errors.Is(err, errRemoteUnanswered) {
		return "", nil
	}
	return code, err
}

// Warm loads the boundary dataset ahead of the first resolution.
func (r *GeoResolver) Warm(ctx context.Context) error {
	_, err := r.ensureIndex(ctx)
	return err
}

func (r *GeoResolver) Stats() GeoResolverStats {
	idx := r.index.Load()
	cacheStats := r.resolved.Stats()
	return GeoResolverStats{
		DatasetLoaded: idx != nil,
		Features:      idx.Len(),
		CachedPoints:  cacheStats.Entries,
		CacheHits:     cacheStats.Hits,
	}
}

func (r *GeoResolver) ensureIndex(ctx context.Context) (*geo.Index, error) {
	if idx := r.index.Load(); idx != nil {
		return idx, nil
	}

	idx, err, _ := r.loads.Do(datasetFlightKey, func() (*geo.Index, error) {
		if idx := r.index.Load(); idx != nil {
			return idx, nil
		}
		if r.loader == nil {
			empty := geo.NewIndex(nil)
			r.index.Store(empty)
			return empty, nil
		}

		features, err := r.loader.Load(ctx)
		if err != nil {
			metrics.GeoDatasetLoadsTotal.WithLabelValues("failed").Inc()
			if crerr.Is(err, ErrDatasetUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrDatasetUnavailable, err)
		}

		metrics.GeoDatasetLoadsTotal.WithLabelValues("ok").Inc()
		built := geo.NewIndex(features)
		r.index.Store(built)
		r.logger.InfoContext(ctx, "country boundary index ready", "features", built.Len())
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// remoteLookup asks the fallback provider, then retries with the axes
// swapped. It returns errRemoteUnanswered when no attempt found a code and
// at least one attempt failed.
func (r *GeoResolver) remoteLookup(ctx context.Context, p geo.Point) (string, error) {
	if r.fallback == nil {
		return "", nil
	}

	attempts := [][2]float64{{p.Lat, p.Lng}}
	if swapped, ok := geo.NormalizeCoordinate(p.Lng, p.Lat); ok && swapped == (geo.Point{Lat: p.Lng, Lng: p.Lat}) && swapped != p {
		attempts = append(attempts, [2]float64{swapped.Lat, swapped.Lng})
	}

	failed := false
	for _, a := range attempts {
		code, err := r.fallback.CountryCode(ctx, a[0], a[1])
		if err != nil {
			failed = true
			r.logger.DebugContext(ctx, "reverse geocode fallback failed", "lat", a[0], "lng", a[1], "error", err)
			continue
		}
		if code != "" {
			return code, nil
		}
	}
	if failed {
		return "", errRemoteUnanswered
	}
	return "", nil
}
