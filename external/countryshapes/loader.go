package countryshapes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/platform/geo"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"github.com/valyala/fasthttp"
)

// Default mirrors serve the same Natural Earth derived country outlines.
var DefaultMirrors = []string{
	"https://raw.githubusercontent.com/datasets/geo-countries/master/data/countries.geojson",
	"https://cdn.jsdelivr.net/gh/datasets/geo-countries@master/data/countries.geojson",
}

const defaultMaxBodySize = 64 << 20

type LoaderConfig struct {
	Mirrors     []string
	Timeout     time.Duration
	MaxBodySize int
	Logger      *logging.Logger
}

// Loader downloads the boundary dataset, trying mirrors in order.
type Loader struct {
	client  *fasthttp.Client
	mirrors []string
	timeout time.Duration
	logger  *logging.Logger
}

func NewLoader(cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		if m = strings.TrimSpace(m); m != "" {
			mirrors = append(mirrors, m)
		}
	}
	if len(mirrors) == 0 {
		mirrors = append(mirrors, DefaultMirrors...)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	return &Loader{
		client: &fasthttp.Client{
			Name:                "duel-ingest",
			MaxResponseBodySize: maxBody,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
		mirrors: mirrors,
		timeout: timeout,
		logger:  logger,
	}
}

func (l *Loader) Mirrors() []string {
	return append([]string(nil), l.mirrors...)
}

// Load returns the features of the first mirror that serves a parseable
// collection. When every mirror fails the error wraps usecase.ErrDatasetUnavailable.
func (l *Loader) Load(ctx context.Context) ([]geo.Feature, error) {
	failures := make([]string, 0, len(l.mirrors))
	for _, mirror := range l.mirrors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		body, err := l.download(ctx, mirror)
		if err == nil {
			var features []geo.Feature
			features, err = geo.ParseFeatureCollection(body)
			if err == nil {
				l.logger.InfoContext(ctx, "country boundary dataset loaded",
					"mirror", mirror,
					"features", len(features),
					"bytes", len(body),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				return features, nil
			}
		}

		l.logger.WarnContext(ctx, "country boundary mirror failed", "mirror", mirror, "error", err)
		failures = append(failures, mirror+": "+err.Error())
	}

	return nil, fmt.Errorf("%w: %s", usecase.ErrDatasetUnavailable, strings.Join(failures, "; "))
}

func (l *Loader) download(ctx context.Context, mirror string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(mirror)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, fmt.Errorf("download: status=%d", code)
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	// resp is returned to the pool, so the body must be copied out.
	return append([]byte(nil), body...), nil
}
