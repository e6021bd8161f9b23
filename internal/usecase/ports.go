package usecase

import (
	"context"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/platform/geo"
)

type RequestOptions struct {
	// Credential overrides the transport's configured session credential.
	Credential string
	// ForceAuthenticated fails the request up front when no credential is available.
	ForceAuthenticated bool
}

// JSONResponse carries the status of any completed exchange. Only transport
// failures are reported as errors.
type JSONResponse struct {
	Status int
	Body   []byte
}

func (r JSONResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type JSONTransport interface {
	GetJSON(ctx context.Context, url string, opts RequestOptions) (JSONResponse, error)
}

// EndpointCatalog lists candidate detail URLs for a match, best first.
type EndpointCatalog interface {
	Candidates(m match.FeedMatch) []string
}

type BoundaryLoader interface {
	Load(ctx context.Context) ([]geo.Feature, error)
}

// ReverseGeocoder returns "" when the provider has no country for the point.
type ReverseGeocoder interface {
	CountryCode(ctx context.Context, lat, lng float64) (string, error)
}

type OwnPlayerResolver interface {
	FetchOwnPlayerID(ctx context.Context) (string, error)
}
