package round

import (
	"context"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
)

type Repository interface {
	ListByMatchIDs(ctx context.Context, matchIDs []string) ([]Round, error)
	CountByMatchIDs(ctx context.Context, matchIDs []string) (map[string]int, error)
	UpsertMany(ctx context.Context, items []Round) error
}

// ResultWriter persists a match detail together with its rounds. Either the
// detail and the full round set become visible, or nothing changes. Stored
// rounds of the match that are not in rounds are removed.
type ResultWriter interface {
	SaveMatchResult(ctx context.Context, item detail.GameDetail, rounds []Round) error
}
