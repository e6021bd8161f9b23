package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/meta"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
)

// Store keeps every collection behind one lock so that a match result is
// published in a single critical section.
type Store struct {
	mu      sync.RWMutex
	games   map[string]match.FeedMatch
	order   []string
	details map[string]detail.GameDetail
	rounds  map[string]map[int]round.Round
	meta    map[string]meta.Entry
}

func NewStore() *Store {
	return &Store{
		games:   make(map[string]match.FeedMatch),
		details: make(map[string]detail.GameDetail),
		rounds:  make(map[string]map[int]round.Round),
		meta:    make(map[string]meta.Entry),
	}
}

func (s *Store) List(_ context.Context) ([]match.FeedMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]match.FeedMatch, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.games[id])
	}
	return out, nil
}

func (s *Store) ListByFamilies(_ context.Context, families ...match.Family) ([]match.FeedMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]match.FeedMatch, 0, len(s.order))
	for _, id := range s.order {
		m := s.games[id]
		if len(families) == 0 || slices.Contains(families, m.Family) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) UpsertMany(_ context.Context, items []match.FeedMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range items {
		if m.ID == "" {
			return fmt.Errorf("match id is required")
		}
		if _, exists := s.games[m.ID]; !exists {
			s.order = append(s.order, m.ID)
		}
		s.games[m.ID] = m
	}
	return nil
}

// DetailRepository exposes the detail collection of a Store.
type DetailRepository struct{ s *Store }

func (s *Store) Details() *DetailRepository { return &DetailRepository{s: s} }

func (r *DetailRepository) GetByMatchID(_ context.Context, matchID string) (detail.GameDetail, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	item, ok := r.s.details[matchID]
	if !ok {
		return detail.GameDetail{}, false, nil
	}
	return cloneDetail(item), true, nil
}

func (r *DetailRepository) ListByMatchIDs(_ context.Context, matchIDs []string) ([]detail.GameDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]detail.GameDetail, 0, len(matchIDs))
	for _, id := range matchIDs {
		if item, ok := r.s.details[id]; ok {
			out = append(out, cloneDetail(item))
		}
	}
	return out, nil
}

func (r *DetailRepository) Upsert(ctx context.Context, item detail.GameDetail) error {
	return r.UpsertMany(ctx, []detail.GameDetail{item})
}

func (r *DetailRepository) UpsertMany(_ context.Context, items []detail.GameDetail) error {
	for _, item := range items {
		if item.MatchID == "" {
			return fmt.Errorf("detail match id is required")
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, item := range items {
		r.s.details[item.MatchID] = cloneDetail(item)
	}
	return nil
}

// RoundRepository exposes the round collection of a Store.
type RoundRepository struct{ s *Store }

func (s *Store) Rounds() *RoundRepository { return &RoundRepository{s: s} }

func (r *RoundRepository) ListByMatchIDs(_ context.Context, matchIDs []string) ([]round.Round, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]round.Round, 0)
	for _, id := range matchIDs {
		byNumber := r.s.rounds[id]
		numbers := slices.Sorted(maps.Keys(byNumber))
		for _, n := range numbers {
			out = append(out, cloneRound(byNumber[n]))
		}
	}
	return out, nil
}

func (r *RoundRepository) CountByMatchIDs(_ context.Context, matchIDs []string) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]int, len(matchIDs))
	for _, id := range matchIDs {
		if n := len(r.s.rounds[id]); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (r *RoundRepository) UpsertMany(_ context.Context, items []round.Round) error {
	staged, err := stageRounds(items)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for matchID, byNumber := range staged {
		if r.s.rounds[matchID] == nil {
			r.s.rounds[matchID] = make(map[int]round.Round, len(byNumber))
		}
		for n, item := range byNumber {
			r.s.rounds[matchID][n] = item
		}
	}
	return nil
}

// SaveMatchResult validates and copies the whole unit before taking the
// write lock, so a bad round leaves the store untouched.
func (s *Store) SaveMatchResult(_ context.Context, item detail.GameDetail, rounds []round.Round) error {
	if item.MatchID == "" {
		return fmt.Errorf("detail match id is required")
	}
	for _, r := range rounds {
		if r.MatchID != item.MatchID {
			return fmt.Errorf("round %s belongs to match %q, not %q", r.ID, r.MatchID, item.MatchID)
		}
	}
	staged, err := stageRounds(rounds)
	if err != nil {
		return err
	}
	stagedDetail := cloneDetail(item)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[item.MatchID] = stagedDetail
	if byNumber, ok := staged[item.MatchID]; ok {
		s.rounds[item.MatchID] = byNumber
	} else {
		delete(s.rounds, item.MatchID)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (meta.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.meta[key]
	if !ok {
		return meta.Entry{}, false, nil
	}
	item.Value = slices.Clone(item.Value)
	return item, true, nil
}

func (s *Store) Put(_ context.Context, item meta.Entry) error {
	if item.Key == "" {
		return fmt.Errorf("meta key is required")
	}
	item.Value = slices.Clone(item.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[item.Key] = item
	return nil
}

// Counts reports collection sizes.
func (s *Store) Counts() (games, details, rounds int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, byNumber := range s.rounds {
		rounds += len(byNumber)
	}
	return len(s.games), len(s.details), rounds
}

func stageRounds(items []round.Round) (map[string]map[int]round.Round, error) {
	out := make(map[string]map[int]round.Round)
	for _, item := range items {
		if item.MatchID == "" || item.RoundNumber <= 0 {
			return nil, fmt.Errorf("round requires match id and positive round number, got %q/%d", item.MatchID, item.RoundNumber)
		}
		item = cloneRound(item)
		item.ID = round.Key(item.MatchID, item.RoundNumber)
		if out[item.MatchID] == nil {
			out[item.MatchID] = make(map[int]round.Round)
		}
		out[item.MatchID][item.RoundNumber] = item
	}
	return out, nil
}

func cloneDetail(item detail.GameDetail) detail.GameDetail {
	item.DamageMultiplierRounds = slices.Clone(item.DamageMultiplierRounds)
	item.HealingRounds = slices.Clone(item.HealingRounds)
	item.MissingFields = slices.Clone(item.MissingFields)
	item.Players = maps.Clone(item.Players)
	item.Raw = slices.Clone(item.Raw)
	return item
}

func cloneRound(item round.Round) round.Round {
	item.Participants = maps.Clone(item.Participants)
	return item
}
