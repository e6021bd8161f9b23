package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/meta"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	"github.com/riskibarqy/duel-ingest/internal/platform/id"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/metrics"
)

type SyncTrigger string

const (
	SyncTriggerManual   SyncTrigger = "manual"
	SyncTriggerSchedule SyncTrigger = "schedule"
	SyncTriggerCLI      SyncTrigger = "cli"
)

type SyncRequest struct {
	Trigger     SyncTrigger `json:"trigger" validate:"required,oneof=manual schedule cli"`
	Concurrency int         `json:"concurrency" validate:"gte=0,lte=64"`
	RetryErrors *bool       `json:"retry_errors,omitempty"`
	// OnProgress receives fetcher progress in addition to the live status.
	OnProgress func(FetchProgress) `json:"-"`
}

// SyncReport is the outcome of one ingestion pass, persisted under
// meta.KeyLastDetailSync.
type SyncReport struct {
	RunID        string             `json:"run_id"`
	Trigger      SyncTrigger        `json:"trigger"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Candidates   int                `json:"candidates"`
	Planned      int                `json:"planned"`
	Placeholders int                `json:"placeholders"`
	Reasons      map[PlanReason]int `json:"reasons"`
	Summary      FetchSummary       `json:"summary"`
	Error        string             `json:"error,omitempty"`
}

type SyncStatus struct {
	Running   bool           `json:"running"`
	RunID     string         `json:"run_id,omitempty"`
	Trigger   SyncTrigger    `json:"trigger,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Progress  *FetchProgress `json:"progress,omitempty"`
	Last      *SyncReport    `json:"last,omitempty"`
}

// FeedRecord is one match of an imported feed file.
type FeedRecord struct {
	ID       string    `json:"id" validate:"required,max=128"`
	Mode     string    `json:"mode" validate:"required"`
	PlayedAt time.Time `json:"playedAt"`
}

type DetailSyncConfig struct {
	Matches     match.Repository
	Details     detail.Repository
	Rounds      round.Repository
	Meta        meta.Repository
	Fetcher     *DetailFetcher
	Owner       OwnPlayerResolver
	OwnPlayerID string
	Concurrency int
	RetryErrors bool
	// Zero durations use the planner defaults.
	MissingRetryAfter    time.Duration
	EnrichmentRetryAfter time.Duration
	IDs                  id.Generator
	Logger               *logging.Logger
	Now                  func() time.Time
}

// DetailSyncService runs ingestion passes: plan, placeholder, fetch and report.
// At most one pass runs at a time.
type DetailSyncService struct {
	matches     match.Repository
	details     detail.Repository
	rounds      round.Repository
	meta        meta.Repository
	fetcher     *DetailFetcher
	owner       OwnPlayerResolver
	ownPlayerID string
	concurrency int
	plan        PlanOptions
	ids         id.Generator
	validator   *validator.Validate
	logger      *logging.Logger
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	current *SyncStatus
}

func NewDetailSyncService(cfg DetailSyncConfig) *DetailSyncService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ids := cfg.IDs
	if ids == nil {
		ids = id.NewRandomGenerator("sync")
	}
	plan := DefaultPlanOptions()
	plan.RetryErrors = cfg.RetryErrors
	if cfg.MissingRetryAfter > 0 {
		plan.MissingRetryAfter = cfg.MissingRetryAfter
	}
	if cfg.EnrichmentRetryAfter > 0 {
		plan.EnrichmentRetryAfter = cfg.EnrichmentRetryAfter
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &DetailSyncService{
		matches:     cfg.Matches,
		details:     cfg.Details,
		rounds:      cfg.Rounds,
		meta:        cfg.Meta,
		fetcher:     cfg.Fetcher,
		owner:       cfg.Owner,
		ownPlayerID: strings.TrimSpace(cfg.OwnPlayerID),
		concurrency: concurrency,
		plan:        plan,
		ids:         ids,
		validator:   validator.New(),
		logger:      logger,
		now:         now,
		baseCtx:     baseCtx,
		stop:        stop,
	}
}

// Sync runs one pass in the caller's goroutine.
func (s *DetailSyncService) Sync(ctx context.Context, req SyncRequest) (SyncReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DetailSyncService.Sync")
	defer span.End()

	report, err := s.begin(ctx, req)
	if err != nil {
		return SyncReport{}, err
	}
	return s.execute(ctx, req, report)
}

// Start launches a pass in the background and returns its run id. The pass
// outlives ctx and stops only on Close.
func (s *DetailSyncService) Start(ctx context.Context, req SyncRequest) (string, error) {
	report, err := s.begin(ctx, req)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.baseCtx, req, report); err != nil {
			s.logger.ErrorContext(s.baseCtx, "background ingestion pass failed", "run_id", report.RunID, "error", err)
		}
	}()
	return report.RunID, nil
}

// Close cancels a running background pass and waits for it to stop.
func (s *DetailSyncService) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *DetailSyncService) Status(ctx context.Context) (SyncStatus, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DetailSyncService.Status")
	defer span.End()

	out := SyncStatus{}
	s.mu.Lock()
	if s.current != nil {
		out = *s.current
		if s.current.Progress != nil {
			progress := *s.current.Progress
			out.Progress = &progress
		}
	}
	s.mu.Unlock()

	last, ok, err := s.LastReport(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	if ok {
		out.Last = &last
	}
	return out, nil
}

func (s *DetailSyncService) LastReport(ctx context.Context) (SyncReport, bool, error) {
	if s.meta == nil {
		return SyncReport{}, false, nil
	}
	entry, ok, err := s.meta.Get(ctx, meta.KeyLastDetailSync)
	if err != nil {
		return SyncReport{}, false, fmt.Errorf("get last sync report: %w", err)
	}
	if !ok || len(entry.Value) == 0 {
		return SyncReport{}, false, nil
	}

	var report SyncReport
	if err := sonic.Unmarshal(entry.Value, &report); err != nil {
		return SyncReport{}, false, fmt.Errorf("decode last sync report: %w", err)
	}
	return report, true, nil
}

// ParseFeed decodes a feed file: either a JSON array of records or an object
// with a "matches" array.
func ParseFeed(raw []byte) ([]FeedRecord, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: feed is empty", ErrInvalidInput)
	}

	var records []FeedRecord
	if strings.HasPrefix(trimmed, "[") {
		if err := sonic.UnmarshalString(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: decode feed: %v", ErrInvalidInput, err)
		}
		return records, nil
	}

	var wrapped struct {
		Matches []FeedRecord `json:"matches"`
	}
	if err := sonic.UnmarshalString(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", ErrInvalidInput, err)
	}
	return wrapped.Matches, nil
}

// ImportFeed validates and stores feed records. Records of every family are
// kept; only ingestible ones are planned later.
func (s *DetailSyncService) ImportFeed(ctx context.Context, records []FeedRecord) (int, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DetailSyncService.ImportFeed")
	defer span.End()

	if len(records) == 0 {
		return 0, nil
	}

	items := make([]match.FeedMatch, 0, len(records))
	for i := range records {
		records[i].ID = strings.TrimSpace(records[i].ID)
		records[i].Mode = strings.TrimSpace(records[i].Mode)
		if err := s.validator.StructCtx(ctx, records[i]); err != nil {
			return 0, fmt.Errorf("%w: feed record %d: %v", ErrInvalidInput, i, err)
		}
		items = append(items, match.FeedMatch{
			ID:           records[i].ID,
			Family:       match.ParseFamily(records[i].Mode),
			PlayedAt:     records[i].PlayedAt.UTC(),
			RawModeLabel: records[i].Mode,
		})
	}

	if err := s.matches.UpsertMany(ctx, items); err != nil {
		return 0, fmt.Errorf("upsert feed matches: %w", err)
	}
	s.logger.InfoContext(ctx, "feed imported", "matches", len(items))
	return len(items), nil
}

func (s *DetailSyncService) begin(ctx context.Context, req SyncRequest) (SyncReport, error) {
	if req.Trigger == "" {
		req.Trigger = SyncTriggerManual
	}
	if err := s.validator.StructCtx(ctx, req); err != nil {
		return SyncReport{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	runID, err := s.ids.NewID()
	if err != nil {
		return SyncReport{}, fmt.Errorf("generate run id: %w", err)
	}

	startedAt := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return SyncReport{}, fmt.Errorf("%w: ingestion pass %s is running", ErrConflict, s.current.RunID)
	}
	s.current = &SyncStatus{
		Running:   true,
		RunID:     runID,
		Trigger:   req.Trigger,
		StartedAt: &startedAt,
	}

	return SyncReport{RunID: runID, Trigger: req.Trigger, StartedAt: startedAt}, nil
}

func (s *DetailSyncService) finish() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *DetailSyncService) setProgress(p FetchProgress) {
	s.mu.Lock()
	if s.current != nil {
		s.current.Progress = &p
	}
	s.mu.Unlock()
}

func (s *DetailSyncService) execute(ctx context.Context, req SyncRequest, report SyncReport) (SyncReport, error) {
	defer s.finish()
	if req.Trigger == "" {
		req.Trigger = SyncTriggerManual
	}

	logger := s.logger.With("run_id", report.RunID, "trigger", string(req.Trigger))
	logger.InfoContext(ctx, "ingestion pass started")

	report, runErr := s.run(ctx, req, report, logger)
	report.FinishedAt = s.now().UTC()
	if runErr != nil {
		report.Error = runErr.Error()
	}

	status := "ok"
	if runErr != nil {
		status = "error"
	}
	metrics.SyncRunsTotal.WithLabelValues(string(req.Trigger), status).Inc()
	metrics.SyncDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if err := s.saveReport(context.WithoutCancel(ctx), report); err != nil {
		logger.ErrorContext(ctx, "persist sync report failed", "error", err)
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "ingestion pass failed", "error", runErr)
		return report, runErr
	}
	logger.InfoContext(ctx, "ingestion pass finished",
		"candidates", report.Candidates,
		"queued", report.Summary.Queued,
		"ok", report.Summary.OK,
		"fail", report.Summary.Fail,
		"skipped", report.Summary.Skipped,
		"duration", report.Summary.Duration,
	)
	return report, nil
}

func (s *DetailSyncService) run(ctx context.Context, req SyncRequest, report SyncReport, logger *logging.Logger) (SyncReport, error) {
	candidates, err := s.matches.ListByFamilies(ctx, match.FamilyHeadToHead, match.FamilyTeamHeadToHead)
	if err != nil {
		return report, fmt.Errorf("list feed matches: %w", err)
	}
	report.Candidates = len(candidates)

	ids := make([]string, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, m.ID)
	}

	storedList, err := s.details.ListByMatchIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("list stored details: %w", err)
	}
	stored := make(map[string]detail.GameDetail, len(storedList))
	for _, item := range storedList {
		stored[item.MatchID] = item
	}

	roundCounts, err := s.rounds.CountByMatchIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("count stored rounds: %w", err)
	}

	opts := s.plan
	opts.Now = s.now().UTC()
	if req.RetryErrors != nil {
		opts.RetryErrors = *req.RetryErrors
	}
	plan := PlanWork(candidates, stored, roundCounts, opts)
	report.Planned = len(plan.ToFetch)
	report.Reasons = plan.Reasons

	if len(plan.ToMarkMissing) > 0 {
		if err := s.details.UpsertMany(ctx, plan.ToMarkMissing); err != nil {
			return report, fmt.Errorf("insert placeholder details: %w", err)
		}
		for _, ph := range plan.ToMarkMissing {
			stored[ph.MatchID] = ph
		}
	}
	report.Placeholders = len(plan.ToMarkMissing)

	jobs := make([]FetchJob, 0, len(plan.ToFetch))
	for _, m := range plan.ToFetch {
		job := FetchJob{Match: m}
		if prev, ok := stored[m.ID]; ok {
			job.Previous = &prev
		}
		jobs = append(jobs, job)
	}

	logger.InfoContext(ctx, "ingestion plan ready",
		"candidates", len(candidates),
		"to_fetch", len(plan.ToFetch),
		"placeholders", len(plan.ToMarkMissing),
		"up_to_date", plan.Skipped,
	)
	if len(jobs) == 0 {
		return report, nil
	}

	ownPlayerID := s.resolveOwnPlayer(ctx, logger)

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = s.concurrency
	}
	summary, err := s.fetcher.Run(ctx, NewMatchQueue(jobs), RunOptions{
		Concurrency: concurrency,
		OwnPlayerID: ownPlayerID,
		OnProgress: func(p FetchProgress) {
			s.setProgress(p)
			if req.OnProgress != nil {
				req.OnProgress(p)
			}
		},
	})
	report.Summary = summary
	if err != nil {
		return report, fmt.Errorf("run detail fetcher: %w", err)
	}
	return report, nil
}

// resolveOwnPlayer prefers the configured id and otherwise asks upstream once
// per pass. Without an id the normalizer falls back to team order.
func (s *DetailSyncService) resolveOwnPlayer(ctx context.Context, logger *logging.Logger) string {
	if s.ownPlayerID != "" {
		return s.ownPlayerID
	}
	if s.owner == nil {
		return ""
	}
	ownID, err := s.owner.FetchOwnPlayerID(ctx)
	if err != nil {
		logger.WarnContext(ctx, "resolve own player id failed, using team order", "error", err)
		return ""
	}
	return ownID
}

func (s *DetailSyncService) saveReport(ctx context.Context, report SyncReport) error {
	if s.meta == nil {
		return nil
	}
	body, err := sonic.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode sync report: %w", err)
	}
	return s.meta.Put(ctx, meta.Entry{
		Key:       meta.KeyLastDetailSync,
		Value:     body,
		UpdatedAt: report.FinishedAt,
	})
}
