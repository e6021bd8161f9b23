package match

import "context"

// Repository stores the feed of known matches.
type Repository interface {
	List(ctx context.Context) ([]FeedMatch, error)
	ListByFamilies(ctx context.Context, families ...Family) ([]FeedMatch, error)
	UpsertMany(ctx context.Context, items []FeedMatch) error
}
