package meta

import (
	"context"
	"time"
)

const KeyLastDetailSync = "details.last_sync"

// Entry is a small JSON document stored under a well-known key.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type Repository interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, item Entry) error
}
