package usecase

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/profile"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	profilemock "github.com/riskibarqy/duel-ingest/internal/mocks/domain/profile"
	"github.com/stretchr/testify/mock"
)

var normalizeNow = time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)

func duelInput(t *testing.T, own string) NormalizeInput {
	t.Helper()
	return NormalizeInput{
		Match: match.FeedMatch{
			ID:       "M1",
			Family:   match.FamilyHeadToHead,
			PlayedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		},
		Payload:     decodePayload(t, duelPayload),
		Raw:         []byte(duelPayload),
		Endpoint:    "https://api.example/api/duels/M1",
		OwnPlayerID: own,
		FetchedAt:   normalizeNow,
	}
}

func approx(got *float64, want float64) bool {
	return got != nil && math.Abs(*got-want) < 1e-9
}

func TestPayloadNormalizer_DuelRolesAndRounds(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{codes: map[string]string{"48.85,2.35": "FR", "52.5,13.4": "DE"}}
	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: resolver})

	item, rounds, err := normalizer.Normalize(context.Background(), duelInput(t, "p-me"))
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	if item.Status != detail.StatusOK || item.TotalRounds != 2 || item.Endpoint != "https://api.example/api/duels/M1" {
		t.Fatalf("unexpected detail header: %+v", item)
	}
	if item.Players[match.RoleSelf].PlayerID != "p-me" || item.Players[match.RoleOpponent].PlayerID != "p-opp" {
		t.Fatalf("unexpected roles: %+v", item.Players)
	}
	if _, ok := item.Players[match.RoleMate]; ok {
		t.Fatalf("head-to-head must not populate mate")
	}
	if !reflect.DeepEqual(item.DamageMultiplierRounds, []int{2}) || !reflect.DeepEqual(item.HealingRounds, []int{2}) {
		t.Fatalf("unexpected multiplier/healing rounds: %v %v", item.DamageMultiplierRounds, item.HealingRounds)
	}
	if item.WinningTeamID != "t-me" || item.MissingFields != nil || item.MissingFieldsCheckedAt != nil {
		t.Fatalf("unexpected metadata: winner=%q missing=%v", item.WinningTeamID, item.MissingFields)
	}
	if item.MapName == nil || *item.MapName != "A Community World" || item.IsRated == nil || !*item.IsRated {
		t.Fatalf("unexpected map metadata: %+v", item)
	}

	if len(rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(rounds))
	}
	r1, r2 := rounds[0], rounds[1]
	if r1.ID != round.Key("M1", 1) || r1.TrueCountry != "FR" || !approx(r1.DurationSeconds, 90) {
		t.Fatalf("unexpected round 1: %+v", r1)
	}
	self1 := r1.Participants[match.RoleSelf]
	if self1.GuessCountry != "FR" || !approx(self1.DistanceKm, 2.5005) || self1.IsBestGuess == nil || !*self1.IsBestGuess {
		t.Fatalf("unexpected self round 1: %+v", self1)
	}
	if !approx(r1.HealthDiffAfter, -600) {
		t.Fatalf("unexpected health diff %v", r1.HealthDiffAfter)
	}
	if r1.Participants[match.RoleOpponent].GuessCountry != "DE" {
		t.Fatalf("unexpected opponent country round 1")
	}

	opp2 := r2.Participants[match.RoleOpponent]
	if opp2.GuessLat != nil || opp2.GuessLng != nil || opp2.GuessCountry != "" || opp2.PlayerID != "p-opp" {
		t.Fatalf("opponent without guess must stay empty: %+v", opp2)
	}
	if r2.Participants[match.RoleSelf].GuessCountry != "SE" {
		t.Fatalf("explicit country code must win")
	}
	if resolver.callCount() != 2 {
		t.Fatalf("expected 2 resolver calls, got %v", resolver.calls)
	}
}

func TestPayloadNormalizer_RoleAssignmentIsStable(t *testing.T) {
	t.Parallel()

	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: &countingResolver{}})
	in := duelInput(t, "p-me")

	first, firstRounds, err := normalizer.Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("first Normalize error: %v", err)
	}
	second, secondRounds, err := normalizer.Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("second Normalize error: %v", err)
	}

	for _, role := range match.Roles {
		if first.Players[role].PlayerID != second.Players[role].PlayerID {
			t.Fatalf("role %s changed: %q vs %q", role, first.Players[role].PlayerID, second.Players[role].PlayerID)
		}
		for i := range firstRounds {
			if firstRounds[i].Participants[role].PlayerID != secondRounds[i].Participants[role].PlayerID {
				t.Fatalf("round %d role %s changed", i+1, role)
			}
		}
	}
}

func TestPayloadNormalizer_UnknownOwnPlayerFallsBackToFirstTeam(t *testing.T) {
	t.Parallel()

	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{})
	item, _, err := normalizer.Normalize(context.Background(), duelInput(t, "someone-else"))
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if item.Players[match.RoleSelf].PlayerID != "p-opp" || item.Players[match.RoleOpponent].PlayerID != "p-me" {
		t.Fatalf("expected team 0 as own team, got %+v", item.Players)
	}
}

func TestPayloadNormalizer_TeamMatchSeatsFourPlayers(t *testing.T) {
	t.Parallel()

	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: &countingResolver{}})
	item, rounds, err := normalizer.Normalize(context.Background(), NormalizeInput{
		Match:       match.FeedMatch{ID: "T1", Family: match.FamilyTeamHeadToHead},
		Payload:     decodePayload(t, teamPayload),
		OwnPlayerID: "me",
		FetchedAt:   normalizeNow,
	})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	want := map[match.Role]string{
		match.RoleSelf:         "me",
		match.RoleMate:         "mate",
		match.RoleOpponent:     "a1",
		match.RoleOpponentMate: "a2",
	}
	for role, id := range want {
		if got := item.Players[role].PlayerID; got != id {
			t.Fatalf("role %s: got %q want %q", role, got, id)
		}
	}
	if len(item.Players) != 4 {
		t.Fatalf("expected truncation to 4 players, got %d", len(item.Players))
	}
	if item.Players[match.RoleSelf].TeamID != "blue" {
		t.Fatalf("unexpected own team id %q", item.Players[match.RoleSelf].TeamID)
	}
	if len(rounds) != 1 || rounds[0].HealthDiffAfter != nil {
		t.Fatalf("team rounds must not carry a health diff: %+v", rounds)
	}
	if !approx(rounds[0].Participants[match.RoleMate].HealthAfter, 6000) {
		t.Fatalf("mate should carry own team health")
	}
	if !reflect.DeepEqual(item.MissingFields, []string{detail.FieldMapSlug, detail.FieldIsRated}) {
		t.Fatalf("unexpected missing fields %v", item.MissingFields)
	}
	if item.MissingFieldsCheckedAt == nil || !item.MissingFieldsCheckedAt.Equal(normalizeNow) {
		t.Fatalf("missing fields must be timestamped")
	}
}

func TestPayloadNormalizer_PriorGuessCountryIsReused(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{codes: map[string]string{"52.5,13.4": "DE"}}
	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: resolver})

	in := duelInput(t, "p-me")
	in.PriorRounds = map[int]round.Round{
		1: {
			MatchID:     "M1",
			RoundNumber: 1,
			Participants: map[match.Role]round.Participant{
				match.RoleSelf: {PlayerID: "p-me", GuessCountry: "FR"},
			},
		},
	}

	_, rounds, err := normalizer.Normalize(context.Background(), in)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if got := rounds[0].Participants[match.RoleSelf].GuessCountry; got != "FR" {
		t.Fatalf("expected stored FR, got %q", got)
	}
	if resolver.queried("48.85,2.35") {
		t.Fatalf("resolver must not be queried for a known guess country")
	}
	if !resolver.queried("52.5,13.4") {
		t.Fatalf("opponent guess without stored country should be resolved")
	}
}

func TestPayloadNormalizer_ExplicitGuessCountryWithoutCoordinates(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{}
	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: resolver})
	_, rounds, err := normalizer.Normalize(context.Background(), NormalizeInput{
		Match: match.FeedMatch{ID: "M2", Family: match.FamilyHeadToHead},
		Payload: decodePayload(t, `{"teams": [
			{"id": "t1", "players": [{"playerId": "p-me", "guesses": [{"roundNumber": 1, "countryCode": "fr"}]}]},
			{"id": "t2", "players": [{"playerId": "p-opp", "guesses": []}]}
		], "rounds": [{"roundNumber": 1}]}`),
		OwnPlayerID: "p-me",
		FetchedAt:   normalizeNow,
	})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	self := rounds[0].Participants[match.RoleSelf]
	if self.GuessCountry != "FR" || self.GuessLat != nil || self.GuessLng != nil {
		t.Fatalf("explicit guess country must survive without coordinates: %+v", self)
	}
	if opp := rounds[0].Participants[match.RoleOpponent]; opp.GuessCountry != "" {
		t.Fatalf("absent guess must have no country, got %q", opp.GuessCountry)
	}
	if resolver.callCount() != 0 {
		t.Fatalf("resolver must not be queried, got %d calls", resolver.callCount())
	}
}

func TestPayloadNormalizer_DatasetFailurePropagates(t *testing.T) {
	t.Parallel()

	resolver := &countingResolver{err: ErrDatasetUnavailable}
	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: resolver})

	_, _, err := normalizer.Normalize(context.Background(), duelInput(t, "p-me"))
	if !errors.Is(err, ErrDatasetUnavailable) {
		t.Fatalf("expected ErrDatasetUnavailable, got %v", err)
	}
}

func TestPayloadNormalizer_MalformedPayloadDegrades(t *testing.T) {
	t.Parallel()

	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{})
	item, rounds, err := normalizer.Normalize(context.Background(), NormalizeInput{
		Match: match.FeedMatch{ID: "X", Family: match.FamilyHeadToHead},
		Payload: decodePayload(t, `{"teams": "nope", "rounds": [{"panorama": {"lat": "abc"}, "damageMultiplier": "NaN"}, 7],
			"options": {"isRated": "maybe"}}`),
		FetchedAt: normalizeNow,
	})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if item.TotalRounds != 1 || len(rounds) != 1 || len(item.Players) != 0 {
		t.Fatalf("unexpected degraded result: %+v %+v", item, rounds)
	}
	if rounds[0].TrueLat != nil || rounds[0].DamageMultiplier != nil {
		t.Fatalf("unparseable numbers must become nil: %+v", rounds[0])
	}
	if len(item.MissingFields) != 3 {
		t.Fatalf("expected all map fields missing, got %v", item.MissingFields)
	}
}

func TestPayloadNormalizer_ProfilesEnrichPlayers(t *testing.T) {
	t.Parallel()

	lookup := profilemock.NewLookup(t)
	lookup.
		On("GetProfile", mock.Anything, "p-me").
		Return(profile.Profile{PlayerID: "p-me", Nick: "Me", CountryCode: "fr"}, nil).
		Once()
	lookup.
		On("GetProfile", mock.Anything, "p-opp").
		Return(profile.Profile{}, errors.New("upstream down")).
		Once()

	normalizer := NewPayloadNormalizer(PayloadNormalizerConfig{Resolver: &countingResolver{}, Profiles: lookup})
	item, _, err := normalizer.Normalize(context.Background(), duelInput(t, "p-me"))
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	self := item.Players[match.RoleSelf]
	if self.Nick != "Me" || self.CountryCode != "FR" {
		t.Fatalf("unexpected self profile: %+v", self)
	}
	opp := item.Players[match.RoleOpponent]
	if opp.Nick != "" || opp.CountryCode != "DE" {
		t.Fatalf("failed lookup should fall back to payload fields: %+v", opp)
	}
}

func TestExtractRating_ShapePriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		player        string
		before, after float64
		none          bool
	}{
		{name: "ranked system wins", player: `{"progressChange": {"rankedSystemProgress": {"ratingBefore": 1000, "ratingAfter": 1020}, "competitiveProgress": {"ratingBefore": 1, "ratingAfter": 2}}}`, before: 1000, after: 1020},
		{name: "ranked team", player: `{"progressChange": {"rankedTeamDuelsProgress": {"ratingBefore": 800, "ratingAfter": "810"}}}`, before: 800, after: 810},
		{name: "incomplete shape skipped", player: `{"progressChange": {"rankedSystemProgress": {"ratingBefore": 5}, "competitiveProgress": {"eloBefore": 700, "eloAfter": 690}}}`, before: 700, after: 690},
		{name: "legacy", player: `{"ratingBefore": 1500, "ratingAfter": 1490}`, before: 1500, after: 1490},
		{name: "absent", player: `{"nick": "x"}`, none: true},
	}
	for _, tc := range cases {
		before, after := extractRating(decodePayload(t, tc.player))
		if tc.none {
			if before != nil || after != nil {
				t.Fatalf("%s: expected no rating", tc.name)
			}
			continue
		}
		if !approx(before, tc.before) || !approx(after, tc.after) {
			t.Fatalf("%s: got %v/%v", tc.name, before, after)
		}
	}
}
