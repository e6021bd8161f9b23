package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
)

// duelPayload is a finished two-round head-to-head. The own player sits in
// the second team and the opponent did not guess in round 2.
const duelPayload = `{
  "gameId": "M1",
  "teams": [
    {"id": "t-opp", "players": [
      {"playerId": "p-opp", "countryCode": "de",
       "guesses": [{"roundNumber": 1, "lat": 52.5, "lng": 13.4, "distance": 15000, "score": 4900}],
       "progressChange": {"competitiveProgress": {"ratingBefore": 990, "ratingAfter": 975}}}
     ],
     "roundResults": [{"roundNumber": 1, "healthAfter": 6000}, {"roundNumber": 2, "healthAfter": 4500}]},
    {"id": "t-me", "players": [
      {"playerId": "p-me",
       "guesses": [
         {"roundNumber": 1, "lat": 48.85, "lng": 2.35, "distance": {"meters": {"amount": "2500.5", "unit": "m"}}, "score": 4990, "isTeamsBestGuessOnRound": true},
         {"roundNumber": 2, "lat": 59.3, "lng": 18.1, "distance": 1200, "score": 5000, "countryCode": "se"}
       ],
       "progressChange": {
         "rankedSystemProgress": {"ratingBefore": 1000, "ratingAfter": 1020},
         "competitiveProgress": {"ratingBefore": 1, "ratingAfter": 2}
       }}
     ],
     "roundResults": [{"roundNumber": 1, "healthAfter": 5400}, {"roundNumber": 2, "healthAfter": 5400}]}
  ],
  "rounds": [
    {"roundNumber": 1, "panorama": {"lat": 48.86, "lng": 2.34, "countryCode": "fr"}, "damageMultiplier": 1, "isHealingRound": false,
     "startTime": "2026-01-02T10:00:00.000Z", "endTime": "2026-01-02T10:01:30.000Z"},
    {"roundNumber": 2, "panorama": {"lat": 59.33, "lng": 18.07, "countryCode": "se"}, "damageMultiplier": 1.5, "isHealingRound": true,
     "startTime": "2026-01-02T10:02:00Z", "endTime": "2026-01-02T10:02:45Z"}
  ],
  "currentRoundNumber": 2,
  "result": {"winningTeamId": "t-me"},
  "options": {"map": {"name": "A Community World", "slug": "community-world"}, "isRated": true}
}`

// teamPayload is a one-round team match without map metadata.
const teamPayload = `{
  "teams": [
    {"id": "red", "players": [
      {"playerId": "a1", "guesses": [{"roundNumber": 1, "lat": 10, "lng": 10, "distance": 1000}], "ratingBefore": 1500, "ratingAfter": 1490},
      {"playerId": "a2", "guesses": [{"roundNumber": 1, "lat": 11, "lng": 11, "distance": 2000}],
       "progressChange": {"rankedTeamDuelsProgress": {"ratingBefore": 800, "ratingAfter": 810}}}
    ], "roundResults": [{"roundNumber": 1, "healthAfter": 5000}]},
    {"id": "blue", "players": [
      {"playerId": "mate", "guesses": [{"roundNumber": 1, "lat": 12, "lng": 12, "distance": 3000}]},
      {"playerId": "me", "guesses": [{"roundNumber": 1, "lat": 13, "lng": 13, "distance": 4000}]},
      {"playerId": "extra", "guesses": []}
    ], "roundResults": [{"roundNumber": 1, "healthAfter": 6000}]}
  ],
  "rounds": [{"roundNumber": 1, "panorama": {"lat": 1, "lng": 1}}],
  "options": {"map": {"name": "World"}}
}`

func decodePayload(t *testing.T, raw string) map[string]any {
	t.Helper()

	var out map[string]any
	if err := sonic.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode payload fixture: %v", err)
	}
	return out
}

// countingResolver answers from a fixed table and records every query.
type countingResolver struct {
	mu    sync.Mutex
	codes map[string]string
	calls []string
	err   error
}

func (r *countingResolver) ResolveCountry(_ context.Context, lat, lng float64) (string, error) {
	key := fmt.Sprintf("%g,%g", lat, lng)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	if r.err != nil {
		return "", r.err
	}
	return r.codes[key], nil
}

func (r *countingResolver) queried(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == key {
			return true
		}
	}
	return false
}

func (r *countingResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
