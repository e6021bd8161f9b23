package relational

import (
	"database/sql"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
)

type gameTableModel struct {
	MatchID      string `db:"match_id"`
	Family       string `db:"family"`
	RawModeLabel string `db:"raw_mode_label"`
	PlayedAtMs   int64  `db:"played_at_ms"`
}

type detailTableModel struct {
	MatchID     string         `db:"match_id"`
	Status      string         `db:"status"`
	Family      string         `db:"family"`
	FetchedAtMs int64          `db:"fetched_at_ms"`
	TotalRounds int            `db:"total_rounds"`
	Endpoint    string         `db:"endpoint"`
	Error       string         `db:"error"`
	Record      string         `db:"record"`
	RawPayload  sql.NullString `db:"raw_payload"`
}

type roundTableModel struct {
	MatchID     string `db:"match_id"`
	RoundNumber int    `db:"round_number"`
	Record      string `db:"record"`
}

type metaTableModel struct {
	Key         string `db:"meta_key"`
	Value       string `db:"value"`
	UpdatedAtMs int64  `db:"updated_at_ms"`
}

// detailRecord holds the GameDetail fields that have no column of their own.
type detailRecord struct {
	PlayedAt               *time.Time                  `json:"playedAt,omitempty"`
	MapName                *string                     `json:"mapName,omitempty"`
	MapSlug                *string                     `json:"mapSlug,omitempty"`
	IsRated                *bool                       `json:"isRated,omitempty"`
	DamageMultiplierRounds []int                       `json:"damageMultiplierRounds,omitempty"`
	HealingRounds          []int                       `json:"healingRounds,omitempty"`
	WinningTeamID          string                      `json:"winningTeamId,omitempty"`
	Players                map[match.Role]playerRecord `json:"players,omitempty"`
	MissingFields          []string                    `json:"missingFields,omitempty"`
	MissingFieldsCheckedAt *time.Time                  `json:"missingFieldsCheckedAt,omitempty"`
}

type playerRecord struct {
	PlayerID     string   `json:"playerId"`
	TeamID       string   `json:"teamId,omitempty"`
	Nick         string   `json:"nick,omitempty"`
	CountryCode  string   `json:"countryCode,omitempty"`
	RatingBefore *float64 `json:"ratingBefore,omitempty"`
	RatingAfter  *float64 `json:"ratingAfter,omitempty"`
}

type roundRecord struct {
	TrueLat          *float64                         `json:"trueLat,omitempty"`
	TrueLng          *float64                         `json:"trueLng,omitempty"`
	TrueCountry      string                           `json:"trueCountry,omitempty"`
	DamageMultiplier *float64                         `json:"damageMultiplier,omitempty"`
	IsHealingRound   bool                             `json:"isHealingRound,omitempty"`
	StartTime        *time.Time                       `json:"startTime,omitempty"`
	EndTime          *time.Time                       `json:"endTime,omitempty"`
	DurationSeconds  *float64                         `json:"durationSeconds,omitempty"`
	Participants     map[match.Role]participantRecord `json:"participants,omitempty"`
	HealthDiffAfter  *float64                         `json:"healthDiffAfter,omitempty"`
}

type participantRecord struct {
	PlayerID     string   `json:"playerId,omitempty"`
	TeamID       string   `json:"teamId,omitempty"`
	GuessLat     *float64 `json:"guessLat,omitempty"`
	GuessLng     *float64 `json:"guessLng,omitempty"`
	GuessCountry string   `json:"guessCountry,omitempty"`
	DistanceKm   *float64 `json:"distanceKm,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	HealthAfter  *float64 `json:"healthAfter,omitempty"`
	IsBestGuess  *bool    `json:"isBestGuess,omitempty"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toDetailRecord(item detail.GameDetail) detailRecord {
	rec := detailRecord{
		PlayedAt:               timePtr(item.PlayedAt),
		MapName:                item.MapName,
		MapSlug:                item.MapSlug,
		IsRated:                item.IsRated,
		DamageMultiplierRounds: item.DamageMultiplierRounds,
		HealingRounds:          item.HealingRounds,
		WinningTeamID:          item.WinningTeamID,
		MissingFields:          item.MissingFields,
		MissingFieldsCheckedAt: item.MissingFieldsCheckedAt,
	}
	if len(item.Players) > 0 {
		rec.Players = make(map[match.Role]playerRecord, len(item.Players))
		for role, p := range item.Players {
			rec.Players[role] = playerRecord(p)
		}
	}
	return rec
}

func (rec detailRecord) apply(item *detail.GameDetail) {
	if rec.PlayedAt != nil {
		item.PlayedAt = rec.PlayedAt.UTC()
	}
	item.MapName = rec.MapName
	item.MapSlug = rec.MapSlug
	item.IsRated = rec.IsRated
	item.DamageMultiplierRounds = rec.DamageMultiplierRounds
	item.HealingRounds = rec.HealingRounds
	item.WinningTeamID = rec.WinningTeamID
	item.MissingFields = rec.MissingFields
	item.MissingFieldsCheckedAt = rec.MissingFieldsCheckedAt
	if len(rec.Players) > 0 {
		item.Players = make(map[match.Role]detail.Player, len(rec.Players))
		for role, p := range rec.Players {
			item.Players[role] = detail.Player(p)
		}
	}
}

func toRoundRecord(item round.Round) roundRecord {
	rec := roundRecord{
		TrueLat:          item.TrueLat,
		TrueLng:          item.TrueLng,
		TrueCountry:      item.TrueCountry,
		DamageMultiplier: item.DamageMultiplier,
		IsHealingRound:   item.IsHealingRound,
		StartTime:        item.StartTime,
		EndTime:          item.EndTime,
		DurationSeconds:  item.DurationSeconds,
		HealthDiffAfter:  item.HealthDiffAfter,
	}
	if len(item.Participants) > 0 {
		rec.Participants = make(map[match.Role]participantRecord, len(item.Participants))
		for role, p := range item.Participants {
			rec.Participants[role] = participantRecord(p)
		}
	}
	return rec
}

func (rec roundRecord) toRound(matchID string, number int) round.Round {
	out := round.Round{
		ID:               round.Key(matchID, number),
		MatchID:          matchID,
		RoundNumber:      number,
		TrueLat:          rec.TrueLat,
		TrueLng:          rec.TrueLng,
		TrueCountry:      rec.TrueCountry,
		DamageMultiplier: rec.DamageMultiplier,
		IsHealingRound:   rec.IsHealingRound,
		StartTime:        rec.StartTime,
		EndTime:          rec.EndTime,
		DurationSeconds:  rec.DurationSeconds,
		HealthDiffAfter:  rec.HealthDiffAfter,
	}
	if len(rec.Participants) > 0 {
		out.Participants = make(map[match.Role]round.Participant, len(rec.Participants))
		for role, p := range rec.Participants {
			out.Participants[role] = round.Participant(p)
		}
	}
	return out
}
