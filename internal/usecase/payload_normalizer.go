package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/profile"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/sourcegraph/conc/pool"
)

const (
	maxSeatsPerTeam        = 2
	profilePrefetchWorkers = 4
)

// CountryResolver is satisfied by GeoResolver.
type CountryResolver interface {
	ResolveCountry(ctx context.Context, lat, lng float64) (string, error)
}

type NormalizeInput struct {
	Match       match.FeedMatch
	Payload     map[string]any
	Raw         []byte
	Endpoint    string
	OwnPlayerID string
	// PriorRounds holds stored rounds of the same match by round number.
	PriorRounds map[int]round.Round
	FetchedAt   time.Time
}

type PayloadNormalizerConfig struct {
	Resolver CountryResolver
	Profiles profile.Lookup
	Logger   *logging.Logger
}

// PayloadNormalizer turns one raw match payload into a GameDetail and its
// rounds. Malformed data degrades to empty values; the only error is a
// failed boundary dataset load inside the resolver.
type PayloadNormalizer struct {
	resolver CountryResolver
	profiles profile.Lookup
	logger   *logging.Logger
}

func NewPayloadNormalizer(cfg PayloadNormalizerConfig) *PayloadNormalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &PayloadNormalizer{
		resolver: cfg.Resolver,
		profiles: cfg.Profiles,
		logger:   logger,
	}
}

type seat struct {
	role    match.Role
	id      string
	teamID  string
	player  map[string]any
	guesses map[int]map[string]any
	health  map[int]*float64
}

func (n *PayloadNormalizer) Normalize(ctx context.Context, in NormalizeInput) (detail.GameDetail, []round.Round, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PayloadNormalizer.Normalize")
	defer span.End()

	seats := n.seatPlayers(ctx, in.Match.ID, in.Payload, in.OwnPlayerID)
	profiles := n.prefetchProfiles(ctx, seats)

	rawRounds := orderedRounds(in.Payload)
	rounds := make([]round.Round, 0, len(rawRounds))
	item := detail.GameDetail{
		MatchID:                in.Match.ID,
		Status:                 detail.StatusOK,
		FetchedAt:              in.FetchedAt,
		Endpoint:               in.Endpoint,
		Family:                 in.Match.Family,
		PlayedAt:               in.Match.PlayedAt,
		TotalRounds:            len(rawRounds),
		DamageMultiplierRounds: []int{},
		HealingRounds:          []int{},
		WinningTeamID:          stringAt(objectAt(in.Payload, "result"), "winningTeamId"),
		Players:                make(map[match.Role]detail.Player, len(seats)),
		Raw:                    in.Raw,
	}

	for _, s := range seats {
		prof := profiles[s.id]
		before, after := extractRating(s.player)
		item.Players[s.role] = detail.Player{
			PlayerID:     s.id,
			TeamID:       s.teamID,
			Nick:         firstNonEmpty(prof.Nick, stringAt(s.player, "nick")),
			CountryCode:  strings.ToUpper(firstNonEmpty(prof.CountryCode, stringAt(s.player, "countryCode"))),
			RatingBefore: before,
			RatingAfter:  after,
		}
	}

	for _, rr := range rawRounds {
		rec, err := n.buildRound(ctx, in, rr, seats)
		if err != nil {
			return detail.GameDetail{}, nil, err
		}
		if rec.DamageMultiplier != nil && *rec.DamageMultiplier > 1 {
			item.DamageMultiplierRounds = append(item.DamageMultiplierRounds, rec.RoundNumber)
		}
		if rec.IsHealingRound {
			item.HealingRounds = append(item.HealingRounds, rec.RoundNumber)
		}
		rounds = append(rounds, rec)
	}

	applyMapMetadata(&item, in.Payload, in.FetchedAt)
	return item, rounds, nil
}

// seatPlayers orders players own team first, own player first, and assigns
// self/mate to the own team and opponent/opponent_mate to the other one.
func (n *PayloadNormalizer) seatPlayers(ctx context.Context, matchID string, payload map[string]any, ownPlayerID string) []seat {
	teams := objectsAt(payload, "teams")
	if len(teams) == 0 {
		return nil
	}

	ownTeam := -1
	if ownPlayerID != "" {
		for ti, team := range teams {
			for _, p := range objectsAt(team, "players") {
				if playerID(p) == ownPlayerID {
					ownTeam = ti
					break
				}
			}
			if ownTeam >= 0 {
				break
			}
		}
	}
	if ownTeam < 0 {
		n.logger.WarnContext(ctx, "own player not found in match payload, using first team as own team",
			"match_id", matchID,
			"own_player_id", ownPlayerID,
		)
		ownTeam = 0
	}

	ordered := make([]map[string]any, 0, 2)
	ordered = append(ordered, teams[ownTeam])
	for ti, team := range teams {
		if ti != ownTeam && len(ordered) < 2 {
			ordered = append(ordered, team)
		}
	}

	slots := [2][maxSeatsPerTeam]match.Role{
		{match.RoleSelf, match.RoleMate},
		{match.RoleOpponent, match.RoleOpponentMate},
	}

	seats := make([]seat, 0, len(match.Roles))
	for ti, team := range ordered {
		players := objectsAt(team, "players")
		if ti == 0 && ownPlayerID != "" {
			sort.SliceStable(players, func(i, j int) bool {
				return playerID(players[i]) == ownPlayerID && playerID(players[j]) != ownPlayerID
			})
		}

		teamID := stringAt(team, "id")
		health := teamHealth(team)
		for pi, p := range players {
			if pi >= maxSeatsPerTeam {
				break
			}
			seats = append(seats, seat{
				role:    slots[ti][pi],
				id:      playerID(p),
				teamID:  teamID,
				player:  p,
				guesses: guessesByRound(p),
				health:  health,
			})
		}
	}
	return seats
}

func (n *PayloadNormalizer) prefetchProfiles(ctx context.Context, seats []seat) map[string]profile.Profile {
	out := make(map[string]profile.Profile, len(seats))
	if n.profiles == nil || len(seats) == 0 {
		return out
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(profilePrefetchWorkers)
	for _, s := range seats {
		if s.id == "" {
			continue
		}
		id := s.id
		p.Go(func() {
			prof, err := n.profiles.GetProfile(ctx, id)
			if err != nil {
				n.logger.DebugContext(ctx, "profile lookup failed", "player_id", id, "error", err)
				return
			}
			mu.Lock()
			out[id] = prof
			mu.Unlock()
		})
	}
	p.Wait()
	return out
}

type rawRound struct {
	number int
	body   map[string]any
}

func orderedRounds(payload map[string]any) []rawRound {
	items := objectsAt(payload, "rounds")
	limit, hasLimit := intAt(payload, "currentRoundNumber")

	seen := make(map[int]struct{}, len(items))
	out := make([]rawRound, 0, len(items))
	for i, r := range items {
		number, ok := intAt(r, "roundNumber")
		if !ok || number <= 0 {
			number = i + 1
		}
		if hasLimit && limit > 0 && number > limit {
			continue
		}
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		out = append(out, rawRound{number: number, body: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out
}

func (n *PayloadNormalizer) buildRound(ctx context.Context, in NormalizeInput, rr rawRound, seats []seat) (round.Round, error) {
	prior, hasPrior := in.PriorRounds[rr.number]
	pano := objectAt(rr.body, "panorama")

	rec := round.Round{
		ID:               round.Key(in.Match.ID, rr.number),
		MatchID:          in.Match.ID,
		RoundNumber:      rr.number,
		TrueLat:          floatAt(pano, "lat"),
		TrueLng:          floatAt(pano, "lng"),
		TrueCountry:      strings.ToUpper(stringAt(pano, "countryCode")),
		DamageMultiplier: firstFloat(rr.body, "damageMultiplier", "multiplier"),
		StartTime:        timeAt(rr.body, "startTime"),
		EndTime:          timeAt(rr.body, "endTime"),
		Participants:     make(map[match.Role]round.Participant, len(seats)),
	}
	if rec.TrueCountry == "" && hasPrior {
		rec.TrueCountry = prior.TrueCountry
	}
	if healing := boolAt(rr.body, "isHealingRound"); healing != nil {
		rec.IsHealingRound = *healing
	}
	if rec.StartTime != nil && rec.EndTime != nil && !rec.EndTime.Before(*rec.StartTime) {
		rec.DurationSeconds = floatPtr(rec.EndTime.Sub(*rec.StartTime).Seconds())
	}

	for _, s := range seats {
		part := round.Participant{
			PlayerID:    s.id,
			TeamID:      s.teamID,
			HealthAfter: s.health[rr.number],
		}
		guess := s.guesses[rr.number]
		if guess != nil {
			lat, lng := floatAt(guess, "lat"), floatAt(guess, "lng")
			if lat != nil && lng != nil {
				part.GuessLat, part.GuessLng = lat, lng
			}
			part.DistanceKm = guessDistanceKm(guess)
			part.Score = floatAt(guess, "score")
			part.IsBestGuess = boolAt(guess, "isTeamsBestGuessOnRound")
		}

		country, err := n.guessCountry(ctx, guess, part, prior.Participants[s.role])
		if err != nil {
			return round.Round{}, fmt.Errorf("resolve guess country match_id=%s round=%d role=%s: %w", in.Match.ID, rr.number, s.role, err)
		}
		part.GuessCountry = country
		rec.Participants[s.role] = part
	}

	if len(seats) == 2 {
		self, opp := rec.Participants[match.RoleSelf], rec.Participants[match.RoleOpponent]
		if self.HealthAfter != nil && opp.HealthAfter != nil {
			rec.HealthDiffAfter = floatPtr(*self.HealthAfter - *opp.HealthAfter)
		}
	}
	return rec, nil
}

// guessCountry prefers the payload's own code, then a stored value for the
// same round and role, and only then asks the resolver.
func (n *PayloadNormalizer) guessCountry(ctx context.Context, guess map[string]any, part round.Participant, prior round.Participant) (string, error) {
	if explicit := strings.ToUpper(firstString(guess, "countryCode", "country")); len(explicit) == 2 {
		return explicit, nil
	}
	if !part.HasGuess() {
		return "", nil
	}
	if prior.GuessCountry != "" {
		return prior.GuessCountry, nil
	}
	if n.resolver == nil {
		return "", nil
	}
	return n.resolver.ResolveCountry(ctx, *part.GuessLat, *part.GuessLng)
}

func playerID(p map[string]any) string {
	return firstString(p, "playerId", "id")
}

func guessesByRound(p map[string]any) map[int]map[string]any {
	guesses := objectsAt(p, "guesses")
	out := make(map[int]map[string]any, len(guesses))
	for i, g := range guesses {
		number, ok := intAt(g, "roundNumber")
		if !ok || number <= 0 {
			number = i + 1
		}
		out[number] = g
	}
	return out
}

func teamHealth(team map[string]any) map[int]*float64 {
	results := objectsAt(team, "roundResults")
	out := make(map[int]*float64, len(results))
	for i, r := range results {
		number, ok := intAt(r, "roundNumber")
		if !ok || number <= 0 {
			number = i + 1
		}
		out[number] = floatAt(r, "healthAfter")
	}
	return out
}

// guessDistanceKm accepts a plain meter count or {meters: {amount}}.
func guessDistanceKm(guess map[string]any) *float64 {
	meters := floatAt(guess, "distance")
	if meters == nil {
		meters = floatAt(objectAt(guess, "distance", "meters"), "amount")
	}
	if meters == nil {
		meters = floatAt(guess, "distanceInMeters")
	}
	if meters == nil {
		return nil
	}
	return floatPtr(*meters / 1000)
}

type ratingShape func(player map[string]any) map[string]any

// Rating shapes in priority order; the first with both values wins.
var ratingShapes = []ratingShape{
	func(p map[string]any) map[string]any { return objectAt(p, "progressChange", "rankedSystemProgress") },
	func(p map[string]any) map[string]any { return objectAt(p, "progressChange", "rankedTeamDuelsProgress") },
	func(p map[string]any) map[string]any { return objectAt(p, "progressChange", "competitiveProgress") },
	func(p map[string]any) map[string]any { return p },
}

func extractRating(player map[string]any) (*float64, *float64) {
	for _, shape := range ratingShapes {
		src := shape(player)
		before := firstFloat(src, "ratingBefore", "eloBefore")
		after := firstFloat(src, "ratingAfter", "eloAfter")
		if before != nil && after != nil {
			return before, after
		}
	}
	return nil, nil
}

func applyMapMetadata(item *detail.GameDetail, payload map[string]any, checkedAt time.Time) {
	options := objectAt(payload, "options")
	mapInfo := objectAt(options, "map")

	var missing []string
	if name := stringAt(mapInfo, "name"); name != "" {
		item.MapName = &name
	} else {
		missing = append(missing, detail.FieldMapName)
	}
	if slug := stringAt(mapInfo, "slug"); slug != "" {
		item.MapSlug = &slug
	} else {
		missing = append(missing, detail.FieldMapSlug)
	}
	if rated := boolAt(options, "isRated"); rated != nil {
		item.IsRated = rated
	} else {
		missing = append(missing, detail.FieldIsRated)
	}

	if len(missing) > 0 {
		item.MissingFields = missing
		checked := checkedAt
		item.MissingFieldsCheckedAt = &checked
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
