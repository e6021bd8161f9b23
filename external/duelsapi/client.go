package duelsapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/riskibarqy/duel-ingest/internal/domain/profile"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultCookieName   = "_ncfa"
	defaultMaxBodyBytes = 8 << 20
)

var errTransport = crerr.New("duels api transport failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	Endpoints      *EndpointTable
	Credential     string
	CookieName     string
	Timeout        time.Duration
	MaxBodyBytes   int64
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client talks to the game API. Non-2xx answers are returned as responses;
// only transport failures and open breakers are errors.
type Client struct {
	httpClient   *http.Client
	endpoints    *EndpointTable
	credential   string
	cookieName   string
	maxBodyBytes int64
	logger       *logging.Logger
	breakers     *resilience.BreakerSet
}

func NewClient(cfg ClientConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	endpoints := cfg.Endpoints
	if endpoints == nil {
		table, err := DefaultEndpointTable()
		if err != nil {
			return nil, err
		}
		endpoints = table
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 15 * time.Second
	}

	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Client{
		httpClient:   httpClient,
		endpoints:    endpoints,
		credential:   strings.TrimSpace(cfg.Credential),
		cookieName:   cookieName,
		maxBodyBytes: maxBody,
		logger:       logger,
		breakers:     resilience.NewBreakerSet(cfg.CircuitBreaker),
	}, nil
}

func (c *Client) Endpoints() *EndpointTable {
	return c.endpoints
}

// BreakerStates exposes per-host breaker state for the status endpoint.
func (c *Client) BreakerStates() map[string]resilience.CircuitState {
	return c.breakers.States()
}

func (c *Client) GetJSON(ctx context.Context, rawURL string, opts usecase.RequestOptions) (usecase.JSONResponse, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return usecase.JSONResponse{}, fmt.Errorf("%w: invalid url %q", usecase.ErrInvalidInput, rawURL)
	}

	credential := strings.TrimSpace(opts.Credential)
	if credential == "" {
		credential = c.credential
	}
	if opts.ForceAuthenticated && credential == "" {
		return usecase.JSONResponse{}, fmt.Errorf("%w: authenticated request without a session credential", usecase.ErrUnauthorized)
	}

	if !c.breakers.Enabled() {
		return c.execute(ctx, rawURL, credential)
	}

	breaker := c.breakers.For(parsed.Host)
	if err := breaker.Allow(); err != nil {
		c.logger.WarnContext(ctx, "duels api circuit breaker rejected request", "host", parsed.Host, "state", breaker.State())
		return usecase.JSONResponse{}, fmt.Errorf("%w: host %s temporarily unavailable: %v", usecase.ErrDependencyUnavailable, parsed.Host, err)
	}

	resp, err := c.execute(ctx, rawURL, credential)
	switch {
	case err != nil && crerr.Is(err, errTransport):
		breaker.RecordFailure()
	case err == nil && resp.Status >= http.StatusInternalServerError:
		breaker.RecordFailure()
	default:
		breaker.RecordSuccess()
	}
	return resp, err
}

func (c *Client) execute(ctx context.Context, rawURL, credential string) (usecase.JSONResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return usecase.JSONResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	if credential != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: credential})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return usecase.JSONResponse{}, ctx.Err()
		}
		return usecase.JSONResponse{}, crerr.Mark(
			crerr.Wrapf(err, "send request"),
			errTransport,
		)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return usecase.JSONResponse{}, crerr.Mark(
			crerr.Wrapf(err, "read response body"),
			errTransport,
		)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return usecase.JSONResponse{}, crerr.Newf("HTTP %d: response body exceeds %d bytes", resp.StatusCode, c.maxBodyBytes)
	}

	return usecase.JSONResponse{Status: resp.StatusCode, Body: body}, nil
}

type userPayload struct {
	ID          string `json:"id"`
	Nick        string `json:"nick"`
	CountryCode string `json:"countryCode"`
}

type selfPayload struct {
	User userPayload `json:"user"`
}

// GetProfile fetches the public nick and country of a player.
func (c *Client) GetProfile(ctx context.Context, playerID string) (profile.Profile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return profile.Profile{}, fmt.Errorf("%w: player id is required", usecase.ErrInvalidInput)
	}
	target := c.endpoints.ProfileURL(playerID)
	if target == "" {
		return profile.Profile{}, fmt.Errorf("%w: profile endpoint is not configured", usecase.ErrDependencyUnavailable)
	}

	resp, err := c.GetJSON(ctx, target, usecase.RequestOptions{})
	if err != nil {
		return profile.Profile{}, fmt.Errorf("fetch profile player_id=%s: %w", playerID, err)
	}
	if resp.Status == http.StatusNotFound {
		return profile.Profile{}, fmt.Errorf("%w: profile player_id=%s", usecase.ErrNotFound, playerID)
	}
	if !resp.OK() {
		return profile.Profile{}, fmt.Errorf("fetch profile player_id=%s: status=%d body=%s", playerID, resp.Status, abbreviateBody(resp.Body))
	}

	var payload userPayload
	if err := sonic.Unmarshal(resp.Body, &payload); err != nil {
		return profile.Profile{}, fmt.Errorf("decode profile payload: %w", err)
	}
	return profile.Profile{
		PlayerID:    playerID,
		Nick:        strings.TrimSpace(payload.Nick),
		CountryCode: strings.ToUpper(strings.TrimSpace(payload.CountryCode)),
	}, nil
}

// FetchOwnPlayerID returns the id of the account behind the session credential.
func (c *Client) FetchOwnPlayerID(ctx context.Context) (string, error) {
	target := c.endpoints.SelfURL()
	if target == "" {
		return "", fmt.Errorf("%w: self endpoint is not configured", usecase.ErrDependencyUnavailable)
	}

	resp, err := c.GetJSON(ctx, target, usecase.RequestOptions{ForceAuthenticated: true})
	if err != nil {
		return "", fmt.Errorf("fetch own profile: %w", err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return "", fmt.Errorf("%w: session credential rejected (status=%d)", usecase.ErrUnauthorized, resp.Status)
	}
	if !resp.OK() {
		return "", fmt.Errorf("fetch own profile: status=%d body=%s", resp.Status, abbreviateBody(resp.Body))
	}

	var payload selfPayload
	if err := sonic.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode own profile payload: %w", err)
	}
	id := strings.TrimSpace(payload.User.ID)
	if id == "" {
		return "", fmt.Errorf("own profile payload has no user id")
	}
	return id, nil
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}
