package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"go.opentelemetry.io/otel/attribute"
)

const maxJobRequestBytes = 64 << 10

var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

type syncDetailsJobRequest struct {
	Concurrency int   `json:"concurrency" validate:"gte=0,lte=64"`
	RetryErrors *bool `json:"retry_errors"`
}

type syncDetailsJobResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunSyncDetailsJob starts an ingestion pass in the background. The pass
// keeps running after the request returns.
func (h *Handler) RunSyncDetailsJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunSyncDetailsJob")
	defer span.End()

	req, err := decodeSyncDetailsJobRequest(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	span.SetAttributes(attribute.Int("sync.concurrency", req.Concurrency))
	runID, err := h.syncService.Start(ctx, usecase.SyncRequest{
		Trigger:     usecase.SyncTriggerManual,
		Concurrency: req.Concurrency,
		RetryErrors: req.RetryErrors,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "start sync details job failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	span.SetAttributes(attribute.String("sync.run_id", runID))
	h.logger.InfoContext(ctx, "sync details job started", "run_id", runID)
	writeSuccess(ctx, w, http.StatusAccepted, syncDetailsJobResponse{RunID: runID, Status: "started"})
}

// decodeSyncDetailsJobRequest accepts an empty body as the default request.
func decodeSyncDetailsJobRequest(r *http.Request) (syncDetailsJobRequest, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxJobRequestBytes))
	if err != nil {
		return syncDetailsJobRequest{}, fmt.Errorf("%w: read request body: %v", usecase.ErrInvalidInput, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return syncDetailsJobRequest{}, nil
	}

	var req syncDetailsJobRequest
	if err := strictJSON.Unmarshal(raw, &req); err != nil {
		return syncDetailsJobRequest{}, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err)
	}
	return req, nil
}
