package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
)

type MatchView struct {
	Detail detail.GameDetail
	Rounds []round.Round
}

// MatchQueryService reads stored match details for the API.
type MatchQueryService struct {
	details detail.Repository
	rounds  round.Repository
}

func NewMatchQueryService(details detail.Repository, rounds round.Repository) *MatchQueryService {
	return &MatchQueryService{details: details, rounds: rounds}
}

func (s *MatchQueryService) GetMatch(ctx context.Context, matchID string) (MatchView, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchQueryService.GetMatch")
	defer span.End()

	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return MatchView{}, fmt.Errorf("%w: match id is required", ErrInvalidInput)
	}

	item, ok, err := s.details.GetByMatchID(ctx, matchID)
	if err != nil {
		return MatchView{}, fmt.Errorf("get detail match_id=%s: %w", matchID, err)
	}
	if !ok {
		return MatchView{}, fmt.Errorf("%w: match detail %s", ErrNotFound, matchID)
	}

	rounds, err := s.rounds.ListByMatchIDs(ctx, []string{matchID})
	if err != nil {
		return MatchView{}, fmt.Errorf("list rounds match_id=%s: %w", matchID, err)
	}
	return MatchView{Detail: item, Rounds: rounds}, nil
}
