package httpapi

import (
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
)

type syncProgressDTO struct {
	Done      int   `json:"done"`
	Total     int   `json:"total"`
	OK        int   `json:"ok"`
	Fail      int   `json:"fail"`
	ElapsedMS int64 `json:"elapsed_ms"`
	ETAMS     int64 `json:"eta_ms"`
}

type syncSummaryDTO struct {
	Queued     int   `json:"queued"`
	OK         int   `json:"ok"`
	Fail       int   `json:"fail"`
	Skipped    int   `json:"skipped"`
	Missing    int   `json:"missing"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}

type syncReportDTO struct {
	RunID        string                     `json:"run_id"`
	Trigger      string                     `json:"trigger"`
	StartedAt    time.Time                  `json:"started_at"`
	FinishedAt   time.Time                  `json:"finished_at"`
	Candidates   int                        `json:"candidates"`
	Planned      int                        `json:"planned"`
	Placeholders int                        `json:"placeholders"`
	Reasons      map[usecase.PlanReason]int `json:"reasons,omitempty"`
	Summary      syncSummaryDTO             `json:"summary"`
	Error        string                     `json:"error,omitempty"`
}

type syncStatusDTO struct {
	Running   bool             `json:"running"`
	RunID     string           `json:"run_id,omitempty"`
	Trigger   string           `json:"trigger,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Progress  *syncProgressDTO `json:"progress,omitempty"`
	Last      *syncReportDTO   `json:"last,omitempty"`
}

func syncStatusToDTO(v usecase.SyncStatus) syncStatusDTO {
	out := syncStatusDTO{
		Running:   v.Running,
		RunID:     v.RunID,
		Trigger:   string(v.Trigger),
		StartedAt: v.StartedAt,
	}
	if v.Progress != nil {
		out.Progress = &syncProgressDTO{
			Done:      v.Progress.Done,
			Total:     v.Progress.Total,
			OK:        v.Progress.OK,
			Fail:      v.Progress.Fail,
			ElapsedMS: v.Progress.Elapsed.Milliseconds(),
			ETAMS:     v.Progress.ETA.Milliseconds(),
		}
	}
	if v.Last != nil {
		last := v.Last
		out.Last = &syncReportDTO{
			RunID:        last.RunID,
			Trigger:      string(last.Trigger),
			StartedAt:    last.StartedAt,
			FinishedAt:   last.FinishedAt,
			Candidates:   last.Candidates,
			Planned:      last.Planned,
			Placeholders: last.Placeholders,
			Reasons:      last.Reasons,
			Summary: syncSummaryDTO{
				Queued:     last.Summary.Queued,
				OK:         last.Summary.OK,
				Fail:       last.Summary.Fail,
				Skipped:    last.Summary.Skipped,
				Missing:    last.Summary.Missing,
				Errors:     last.Summary.Errors,
				DurationMS: last.Summary.Duration.Milliseconds(),
			},
			Error: last.Error,
		}
	}
	return out
}

type playerDTO struct {
	Role         string   `json:"role"`
	PlayerID     string   `json:"player_id"`
	TeamID       string   `json:"team_id,omitempty"`
	Nick         string   `json:"nick,omitempty"`
	CountryCode  string   `json:"country_code,omitempty"`
	RatingBefore *float64 `json:"rating_before,omitempty"`
	RatingAfter  *float64 `json:"rating_after,omitempty"`
	RatingDelta  *float64 `json:"rating_delta,omitempty"`
}

type participantDTO struct {
	Role         string   `json:"role"`
	PlayerID     string   `json:"player_id"`
	TeamID       string   `json:"team_id,omitempty"`
	GuessLat     *float64 `json:"guess_lat,omitempty"`
	GuessLng     *float64 `json:"guess_lng,omitempty"`
	GuessCountry string   `json:"guess_country,omitempty"`
	DistanceKm   *float64 `json:"distance_km,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	HealthAfter  *float64 `json:"health_after,omitempty"`
	IsBestGuess  *bool    `json:"is_best_guess,omitempty"`
}

type roundDTO struct {
	RoundNumber      int              `json:"round_number"`
	TrueLat          *float64         `json:"true_lat,omitempty"`
	TrueLng          *float64         `json:"true_lng,omitempty"`
	TrueCountry      string           `json:"true_country,omitempty"`
	DamageMultiplier *float64         `json:"damage_multiplier,omitempty"`
	IsHealingRound   bool             `json:"is_healing_round"`
	StartTime        *time.Time       `json:"start_time,omitempty"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	DurationSeconds  *float64         `json:"duration_seconds,omitempty"`
	HealthDiffAfter  *float64         `json:"health_diff_after,omitempty"`
	Participants     []participantDTO `json:"participants"`
}

type matchDTO struct {
	MatchID                string      `json:"match_id"`
	Status                 string      `json:"status"`
	Family                 string      `json:"family"`
	PlayedAt               *time.Time  `json:"played_at,omitempty"`
	FetchedAt              *time.Time  `json:"fetched_at,omitempty"`
	Endpoint               string      `json:"endpoint,omitempty"`
	Error                  string      `json:"error,omitempty"`
	MapName                *string     `json:"map_name,omitempty"`
	MapSlug                *string     `json:"map_slug,omitempty"`
	IsRated                *bool       `json:"is_rated,omitempty"`
	TotalRounds            int         `json:"total_rounds"`
	DamageMultiplierRounds []int       `json:"damage_multiplier_rounds"`
	HealingRounds          []int       `json:"healing_rounds"`
	WinningTeamID          string      `json:"winning_team_id,omitempty"`
	Players                []playerDTO `json:"players"`
	MissingFields          []string    `json:"missing_fields,omitempty"`
	Rounds                 []roundDTO  `json:"rounds"`
}

func matchViewToDTO(v usecase.MatchView) matchDTO {
	d := v.Detail
	out := matchDTO{
		MatchID:                d.MatchID,
		Status:                 string(d.Status),
		Family:                 string(d.Family),
		PlayedAt:               optionalTime(d.PlayedAt),
		FetchedAt:              optionalTime(d.FetchedAt),
		Endpoint:               d.Endpoint,
		Error:                  d.Error,
		MapName:                d.MapName,
		MapSlug:                d.MapSlug,
		IsRated:                d.IsRated,
		TotalRounds:            d.TotalRounds,
		DamageMultiplierRounds: nonNilInts(d.DamageMultiplierRounds),
		HealingRounds:          nonNilInts(d.HealingRounds),
		WinningTeamID:          d.WinningTeamID,
		Players:                make([]playerDTO, 0, len(d.Players)),
		MissingFields:          d.MissingFields,
		Rounds:                 make([]roundDTO, 0, len(v.Rounds)),
	}
	for _, role := range match.Roles {
		p, ok := d.Players[role]
		if !ok {
			continue
		}
		out.Players = append(out.Players, playerDTO{
			Role:         string(role),
			PlayerID:     p.PlayerID,
			TeamID:       p.TeamID,
			Nick:         p.Nick,
			CountryCode:  p.CountryCode,
			RatingBefore: p.RatingBefore,
			RatingAfter:  p.RatingAfter,
			RatingDelta:  p.RatingDelta(),
		})
	}
	for _, r := range v.Rounds {
		out.Rounds = append(out.Rounds, roundToDTO(r))
	}
	return out
}

func roundToDTO(r round.Round) roundDTO {
	out := roundDTO{
		RoundNumber:      r.RoundNumber,
		TrueLat:          r.TrueLat,
		TrueLng:          r.TrueLng,
		TrueCountry:      r.TrueCountry,
		DamageMultiplier: r.DamageMultiplier,
		IsHealingRound:   r.IsHealingRound,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		DurationSeconds:  r.DurationSeconds,
		HealthDiffAfter:  r.HealthDiffAfter,
		Participants:     make([]participantDTO, 0, len(r.Participants)),
	}
	for _, role := range match.Roles {
		p, ok := r.Participants[role]
		if !ok {
			continue
		}
		out.Participants = append(out.Participants, participantDTO{
			Role:         string(role),
			PlayerID:     p.PlayerID,
			TeamID:       p.TeamID,
			GuessLat:     p.GuessLat,
			GuessLng:     p.GuessLng,
			GuessCountry: p.GuessCountry,
			DistanceKm:   p.DistanceKm,
			Score:        p.Score,
			HealthAfter:  p.HealthAfter,
			IsBestGuess:  p.IsBestGuess,
		})
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
