package round

import (
	"strconv"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
)

// Round is one normalized round of a match, keyed by Key(MatchID, RoundNumber).
type Round struct {
	ID          string
	MatchID     string
	RoundNumber int

	TrueLat     *float64
	TrueLng     *float64
	TrueCountry string

	DamageMultiplier *float64
	IsHealingRound   bool

	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds *float64

	Participants map[match.Role]Participant

	// HealthDiffAfter is self minus opponent health, head-to-head only.
	HealthDiffAfter *float64
}

type Participant struct {
	PlayerID     string
	TeamID       string
	GuessLat     *float64
	GuessLng     *float64
	GuessCountry string
	DistanceKm   *float64
	Score        *float64
	HealthAfter  *float64
	IsBestGuess  *bool
}

func Key(matchID string, roundNumber int) string {
	return matchID + ":" + strconv.Itoa(roundNumber)
}

// HasGuess reports whether the participant placed a guess this round.
func (p Participant) HasGuess() bool {
	return p.GuessLat != nil && p.GuessLng != nil
}
