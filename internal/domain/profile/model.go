package profile

import "context"

type Profile struct {
	PlayerID    string
	Nick        string
	CountryCode string
}

// Lookup resolves a player id to its public profile.
type Lookup interface {
	GetProfile(ctx context.Context, playerID string) (Profile, error)
}
