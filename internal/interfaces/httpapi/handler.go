package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"go.opentelemetry.io/otel/attribute"
)

type Handler struct {
	syncService  *usecase.DetailSyncService
	matchService *usecase.MatchQueryService
	logger       *logging.Logger
	validator    *validator.Validate
}

func NewHandler(
	syncService *usecase.DetailSyncService,
	matchService *usecase.MatchQueryService,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		syncService:  syncService,
		matchService: matchService,
		logger:       logger,
		validator:    validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetSyncStatus")
	defer span.End()

	status, err := h.syncService.Status(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "get sync status failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, syncStatusToDTO(status))
}

func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetMatch", attribute.String("match.id", matchID))
	defer span.End()

	view, err := h.matchService.GetMatch(ctx, matchID)
	if err != nil {
		h.logger.WarnContext(ctx, "get match failed", "match_id", matchID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, matchViewToDTO(view))
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}
