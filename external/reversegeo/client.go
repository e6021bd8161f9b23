package reversegeo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"

// Field names seen across reverse geocoding providers, checked in order.
var countryFields = []string{"countryCode", "country_code", "countryCodeAlpha2", "isoCountryCode"}

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Timeout        time.Duration
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 5 * time.Second
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultURL
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker("reversegeo", breakerCfg),
		circuitEnabled: breakerCfg.Enabled,
	}
}

// CountryCode returns the ISO2 code for the point, or "" when the provider
// answers without one. Non-2xx answers are treated as "no code".
func (c *Client) CountryCode(ctx context.Context, lat, lng float64) (string, error) {
	if !c.circuitEnabled {
		return c.lookup(ctx, lat, lng)
	}

	var code string
	err := c.breaker.Execute(func() error {
		var lookupErr error
		code, lookupErr = c.lookup(ctx, lat, lng)
		return lookupErr
	}, func(err error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: reverse geocode: %v", usecase.ErrDependencyUnavailable, err)
	}
	return code, nil
}

func (c *Client) lookup(ctx context.Context, lat, lng float64) (string, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse reverse geocode url: %w", err)
	}
	query := endpoint.Query()
	query.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	if query.Get("localityLanguage") == "" {
		query.Set("localityLanguage", "en")
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.DebugContext(ctx, "reverse geocode non-2xx", "status", resp.StatusCode)
		return "", nil
	}

	var payload map[string]any
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return "", nil
	}
	return extractCountryCode(payload), nil
}

func extractCountryCode(payload map[string]any) string {
	for _, field := range countryFields {
		if code := iso2(payload[field]); code != "" {
			return code
		}
	}
	if address, ok := payload["address"].(map[string]any); ok {
		return iso2(address["country_code"])
	}
	return ""
}

func iso2(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'A' || s[0] > 'Z' || s[1] < 'A' || s[1] > 'Z' {
		return ""
	}
	return s
}
