package detail

import "context"

type Repository interface {
	GetByMatchID(ctx context.Context, matchID string) (GameDetail, bool, error)
	ListByMatchIDs(ctx context.Context, matchIDs []string) ([]GameDetail, error)
	Upsert(ctx context.Context, item GameDetail) error
	UpsertMany(ctx context.Context, items []GameDetail) error
}
