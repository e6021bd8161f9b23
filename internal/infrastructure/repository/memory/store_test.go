package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/meta"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
)

func roundsFor(matchID string, n int) []round.Round {
	out := make([]round.Round, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, round.Round{
			MatchID:     matchID,
			RoundNumber: i,
			Participants: map[match.Role]round.Participant{
				match.RoleSelf: {PlayerID: "me", GuessCountry: "FR"},
			},
		})
	}
	return out
}

func TestStore_SaveMatchResultReplacesRounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()

	if err := store.SaveMatchResult(ctx, detail.GameDetail{MatchID: "M1", Status: detail.StatusOK, TotalRounds: 5}, roundsFor("M1", 5)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SaveMatchResult(ctx, detail.GameDetail{MatchID: "M1", Status: detail.StatusOK, TotalRounds: 3}, roundsFor("M1", 3)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	counts, err := store.Rounds().CountByMatchIDs(ctx, []string{"M1", "M2"})
	if err != nil {
		t.Fatalf("count rounds: %v", err)
	}
	if counts["M1"] != 3 || counts["M2"] != 0 {
		t.Fatalf("stale rounds must be removed, counts=%v", counts)
	}

	rounds, _ := store.Rounds().ListByMatchIDs(ctx, []string{"M1"})
	if len(rounds) != 3 || rounds[0].ID != "M1:1" || rounds[2].RoundNumber != 3 {
		t.Fatalf("unexpected rounds %+v", rounds)
	}
}

func TestStore_SaveMatchResultIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	old := detail.GameDetail{MatchID: "M1", Status: detail.StatusMissing}
	if err := store.Details().Upsert(ctx, old); err != nil {
		t.Fatalf("seed detail: %v", err)
	}

	bad := roundsFor("M1", 2)
	bad[1].MatchID = "OTHER"
	err := store.SaveMatchResult(ctx, detail.GameDetail{MatchID: "M1", Status: detail.StatusOK, TotalRounds: 2}, bad)
	if err == nil {
		t.Fatalf("expected failure for foreign round")
	}

	got, ok, _ := store.Details().GetByMatchID(ctx, "M1")
	if !ok || got.Status != detail.StatusMissing {
		t.Fatalf("detail must be untouched after failed save, got %+v", got)
	}
	if _, _, rounds := store.Counts(); rounds != 0 {
		t.Fatalf("no round may be visible after failed save, got %d", rounds)
	}
}

func TestStore_ConcurrentReadersSeeWholeUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	if err := store.SaveMatchResult(ctx, detail.GameDetail{MatchID: "M", Status: detail.StatusOK, TotalRounds: 2}, roundsFor("M", 2)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			total := 2 + n%4
			_ = store.SaveMatchResult(ctx, detail.GameDetail{MatchID: "M", Status: detail.StatusOK, TotalRounds: total}, roundsFor("M", total))
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		store.mu.RLock()
		d := store.details["M"]
		n := len(store.rounds["M"])
		store.mu.RUnlock()
		if d.TotalRounds != n {
			t.Fatalf("reader saw detail with %d rounds but %d stored", d.TotalRounds, n)
		}
	}
}

func TestStore_CopiesOnWriteAndRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	item := detail.GameDetail{MatchID: "M", MissingFields: []string{"mapSlug"}}
	if err := store.Details().Upsert(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	item.MissingFields[0] = "mutated"

	got, _, _ := store.Details().GetByMatchID(ctx, "M")
	if got.MissingFields[0] != "mapSlug" {
		t.Fatalf("store must not alias caller slices")
	}
}

func TestStore_MatchesAndMeta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	played := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.UpsertMany(ctx, []match.FeedMatch{
		{ID: "A", Family: match.FamilyHeadToHead, PlayedAt: played},
		{ID: "B", Family: match.FamilyOther},
		{ID: "C", Family: match.FamilyTeamHeadToHead},
	})
	if err != nil {
		t.Fatalf("upsert matches: %v", err)
	}

	items, _ := store.ListByFamilies(ctx, match.FamilyHeadToHead, match.FamilyTeamHeadToHead)
	if len(items) != 2 || items[0].ID != "A" || items[1].ID != "C" {
		t.Fatalf("unexpected family filter result %+v", items)
	}

	if err := store.Put(ctx, meta.Entry{Key: meta.KeyLastDetailSync, Value: []byte(`{"ok":1}`), UpdatedAt: played}); err != nil {
		t.Fatalf("put meta: %v", err)
	}
	entry, ok, _ := store.Get(ctx, meta.KeyLastDetailSync)
	if !ok || string(entry.Value) != `{"ok":1}` {
		t.Fatalf("unexpected meta entry %+v", entry)
	}
}
