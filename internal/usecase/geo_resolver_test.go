package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/platform/geo"
)

type fakeBoundaryLoader struct {
	calls    atomic.Int32
	failures int32
	delay    time.Duration
	features []geo.Feature
}

func (f *fakeBoundaryLoader) Load(context.Context) ([]geo.Feature, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failures {
		return nil, fmt.Errorf("%w: both mirrors down", ErrDatasetUnavailable)
	}
	return f.features, nil
}

type fakeGeocoder struct {
	mu       sync.Mutex
	calls    []string
	codes    map[string]string
	failures int
}

func (f *fakeGeocoder) CountryCode(_ context.Context, lat, lng float64) (string, error) {
	key := fmt.Sprintf("%g,%g", lat, lng)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.failures > 0 {
		f.failures--
		return "", errors.New("circuit breaker is open")
	}
	return f.codes[key], nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testFeatures() []geo.Feature {
	rect := func(iso string, minLat, minLng, maxLat, maxLng float64) geo.Feature {
		return geo.NewFeature(iso, []geo.Polygon{{Outer: geo.Ring{
			{Lat: minLat, Lng: minLng},
			{Lat: minLat, Lng: maxLng},
			{Lat: maxLat, Lng: maxLng},
			{Lat: maxLat, Lng: minLng},
		}}})
	}
	return []geo.Feature{
		rect("FR", 42, -5, 51, 8),
		rect("SE", 55, 11, 69, 24),
	}
}

func TestGeoResolver_IdempotentWithoutExtraNetwork(t *testing.T) {
	t.Parallel()

	loader := &fakeBoundaryLoader{features: testFeatures()}
	fallback := &fakeGeocoder{codes: map[string]string{"-33.9,18.4": "ZA"}}
	resolver := NewGeoResolver(GeoResolverConfig{Loader: loader, Fallback: fallback})
	ctx := context.Background()

	for _, tc := range []struct {
		lat, lng float64
		want     string
	}{
		{lat: 48.8, lng: 2.3, want: "FR"},
		{lat: -33.9, lng: 18.4, want: "ZA"},
		{lat: 0.5, lng: -30, want: ""},
	} {
		first, err := resolver.ResolveCountry(ctx, tc.lat, tc.lng)
		if err != nil {
			t.Fatalf("first resolve error: %v", err)
		}
		callsAfterFirst := fallback.callCount()

		second, err := resolver.ResolveCountry(ctx, tc.lat, tc.lng)
		if err != nil {
			t.Fatalf("second resolve error: %v", err)
		}
		if first != tc.want || second != first {
			t.Fatalf("resolve(%v,%v): first=%q second=%q want=%q", tc.lat, tc.lng, first, second, tc.want)
		}
		if fallback.callCount() != callsAfterFirst {
			t.Fatalf("second resolve of (%v,%v) hit the network", tc.lat, tc.lng)
		}
	}

	if loader.calls.Load() != 1 {
		t.Fatalf("dataset loaded %d times, want 1", loader.calls.Load())
	}
}

func TestGeoResolver_SwappedArgumentsResolveViaRemoteRetry(t *testing.T) {
	t.Parallel()

	fallback := &fakeGeocoder{codes: map[string]string{"48.8,2.3": "FR"}}
	resolver := NewGeoResolver(GeoResolverConfig{
		Loader:   &fakeBoundaryLoader{features: testFeatures()},
		Fallback: fallback,
	})

	direct, err := resolver.ResolveCountry(context.Background(), 48.8, 2.3)
	if err != nil {
		t.Fatalf("direct resolve error: %v", err)
	}
	swapped, err := resolver.ResolveCountry(context.Background(), 2.3, 48.8)
	if err != nil {
		t.Fatalf("swapped resolve error: %v", err)
	}
	if direct != "FR" || swapped != direct {
		t.Fatalf("direct=%q swapped=%q", direct, swapped)
	}
	if got := fallback.calls; len(got) != 2 || got[0] != "2.3,48.8" || got[1] != "48.8,2.3" {
		t.Fatalf("expected original then swapped remote query, got %v", got)
	}
}

func TestGeoResolver_FallbackFailureIsNotRemembered(t *testing.T) {
	t.Parallel()

	fallback := &fakeGeocoder{codes: map[string]string{"-33.9,18.4": "ZA"}, failures: 2}
	resolver := NewGeoResolver(GeoResolverConfig{
		Loader:   &fakeBoundaryLoader{features: testFeatures()},
		Fallback: fallback,
	})
	ctx := context.Background()

	first, err := resolver.ResolveCountry(ctx, -33.9, 18.4)
	if err != nil || first != "" {
		t.Fatalf("resolve during outage = %q, %v", first, err)
	}
	callsDuringOutage := fallback.callCount()

	second, err := resolver.ResolveCountry(ctx, -33.9, 18.4)
	if err != nil {
		t.Fatalf("resolve after outage error: %v", err)
	}
	if second != "ZA" || fallback.callCount() <= callsDuringOutage {
		t.Fatalf("expected a fresh remote lookup after the outage, got %q with %d calls", second, fallback.callCount())
	}

	third, err := resolver.ResolveCountry(ctx, -33.9, 18.4)
	if err != nil || third != "ZA" {
		t.Fatalf("answered lookup must be cached, got %q, %v", third, err)
	}
}

func TestGeoResolver_ObviousSwapCorrectedLocally(t *testing.T) {
	t.Parallel()

	fallback := &fakeGeocoder{}
	resolver := NewGeoResolver(GeoResolverConfig{
		Loader:   &fakeBoundaryLoader{features: testFeatures()},
		Fallback: fallback,
	})

	got, err := resolver.ResolveCountry(context.Background(), 120, 45)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if got != "" {
		t.Fatalf("unexpected code %q", got)
	}
	if len(fallback.calls) != 1 || fallback.calls[0] != "45,120" {
		t.Fatalf("expected swapped coordinate to be queried once, got %v", fallback.calls)
	}

	if got, _ := resolver.ResolveCountry(context.Background(), 100, 95); got != "" {
		t.Fatalf("out of range point must resolve to empty, got %q", got)
	}
	if len(fallback.calls) != 1 {
		t.Fatalf("out of range point must not query the network")
	}
}

func TestGeoResolver_BoundaryPointIsInside(t *testing.T) {
	t.Parallel()

	resolver := NewGeoResolver(GeoResolverConfig{Loader: &fakeBoundaryLoader{features: testFeatures()}})
	got, err := resolver.ResolveCountry(context.Background(), 42, 1)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if got != "FR" {
		t.Fatalf("edge point resolved to %q, want FR", got)
	}
}

func TestGeoResolver_DatasetFailureIsRetried(t *testing.T) {
	t.Parallel()

	loader := &fakeBoundaryLoader{failures: 1, features: testFeatures()}
	resolver := NewGeoResolver(GeoResolverConfig{Loader: loader})

	_, err := resolver.ResolveCountry(context.Background(), 48.8, 2.3)
	if !errors.Is(err, ErrDatasetUnavailable) {
		t.Fatalf("expected ErrDatasetUnavailable, got %v", err)
	}
	if resolver.Stats().CachedPoints != 0 {
		t.Fatalf("failed load must not populate the cache")
	}

	got, err := resolver.ResolveCountry(context.Background(), 48.8, 2.3)
	if err != nil {
		t.Fatalf("second resolve error: %v", err)
	}
	if got != "FR" {
		t.Fatalf("expected FR after reload, got %q", got)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected 2 load attempts, got %d", loader.calls.Load())
	}
}

func TestGeoResolver_ConcurrentCallersShareOneLoad(t *testing.T) {
	t.Parallel()

	loader := &fakeBoundaryLoader{delay: 30 * time.Millisecond, features: testFeatures()}
	resolver := NewGeoResolver(GeoResolverConfig{Loader: loader})

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := resolver.ResolveCountry(context.Background(), 60+float64(i)*0.1, 15)
			if err != nil {
				errCh <- err
				return
			}
			if code != "SE" {
				errCh <- fmt.Errorf("worker %d got %q", i, code)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent resolve: %v", err)
	}

	if loader.calls.Load() != 1 {
		t.Fatalf("dataset loaded %d times, want 1", loader.calls.Load())
	}
	if stats := resolver.Stats(); !stats.DatasetLoaded || stats.Features != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
