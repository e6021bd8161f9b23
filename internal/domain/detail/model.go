package detail

import (
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
)

type Status string

const (
	StatusMissing Status = "missing"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

const (
	FieldMapName = "mapName"
	FieldMapSlug = "mapSlug"
	FieldIsRated = "isRated"
)

// GameDetail is the normalized, per-match record.
type GameDetail struct {
	MatchID   string
	Status    Status
	FetchedAt time.Time
	Endpoint  string
	Error     string

	Family   match.Family
	PlayedAt time.Time

	MapName *string
	MapSlug *string
	IsRated *bool

	TotalRounds            int
	DamageMultiplierRounds []int
	HealingRounds          []int
	WinningTeamID          string

	Players map[match.Role]Player

	MissingFields          []string
	MissingFieldsCheckedAt *time.Time

	// Raw is the upstream payload kept for later re-derivation.
	Raw []byte
}

type Player struct {
	PlayerID     string
	TeamID       string
	Nick         string
	CountryCode  string
	RatingBefore *float64
	RatingAfter  *float64
}

// RatingDelta is nil unless both ratings are known.
func (p Player) RatingDelta() *float64 {
	if p.RatingBefore == nil || p.RatingAfter == nil {
		return nil
	}
	d := *p.RatingAfter - *p.RatingBefore
	return &d
}

// Placeholder is the row written for a match that has never been fetched.
// Its zero FetchedAt keeps it due for fetching.
func Placeholder(m match.FeedMatch) GameDetail {
	return GameDetail{
		MatchID:  m.ID,
		Status:   StatusMissing,
		Family:   m.Family,
		PlayedAt: m.PlayedAt,
	}
}

// NextStatus applies a fetch outcome to the stored status. A failed attempt
// never downgrades an ok row, and an error row never goes back to missing.
func NextStatus(prev, outcome Status) Status {
	if outcome == StatusOK {
		return StatusOK
	}
	switch prev {
	case StatusOK:
		return StatusOK
	case StatusError:
		return StatusError
	default:
		return outcome
	}
}
