package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/metrics"
)

const DefaultFetchConcurrency = 4

// MatchNormalizer is satisfied by PayloadNormalizer.
type MatchNormalizer interface {
	Normalize(ctx context.Context, in NormalizeInput) (detail.GameDetail, []round.Round, error)
}

// FetchJob is one queued match plus its stored detail, if any.
type FetchJob struct {
	Match    match.FeedMatch
	Previous *detail.GameDetail
}

// MatchQueue is a closed FIFO of fetch jobs filled once by the planner and
// drained by the fetcher's workers. A match id is queued at most once.
type MatchQueue struct {
	jobs  chan FetchJob
	total int
}

func NewMatchQueue(jobs []FetchJob) *MatchQueue {
	seen := make(map[string]struct{}, len(jobs))
	unique := make([]FetchJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Match.ID == "" {
			continue
		}
		if _, dup := seen[job.Match.ID]; dup {
			continue
		}
		seen[job.Match.ID] = struct{}{}
		unique = append(unique, job)
	}

	q := &MatchQueue{jobs: make(chan FetchJob, len(unique)), total: len(unique)}
	for _, job := range unique {
		q.jobs <- job
	}
	close(q.jobs)
	return q
}

// Next pops the next job unless ctx is done or the queue is empty.
func (q *MatchQueue) Next(ctx context.Context) (FetchJob, bool) {
	if ctx.Err() != nil {
		return FetchJob{}, false
	}
	job, ok := <-q.jobs
	return job, ok
}

func (q *MatchQueue) Len() int {
	return len(q.jobs)
}

func (q *MatchQueue) Total() int {
	return q.total
}

type FetchProgress struct {
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	OK      int           `json:"ok"`
	Fail    int           `json:"fail"`
	Elapsed time.Duration `json:"elapsed"`
	ETA     time.Duration `json:"eta"`
}

type FetchSummary struct {
	Queued   int           `json:"queued"`
	OK       int           `json:"ok"`
	Fail     int           `json:"fail"`
	Skipped  int           `json:"skipped"`
	Missing  int           `json:"missing"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type RunOptions struct {
	Concurrency int
	OwnPlayerID string
	// OnProgress is called after every finished job, from worker goroutines.
	OnProgress func(FetchProgress)
}

type DetailFetcherConfig struct {
	Transport      JSONTransport
	Endpoints      EndpointCatalog
	Normalizer     MatchNormalizer
	Details        detail.Repository
	Rounds         round.Repository
	Writer         round.ResultWriter
	RequestOptions RequestOptions
	Logger         *logging.Logger
	Now            func() time.Time
}

// DetailFetcher drains a MatchQueue with a fixed worker pool, racing the
// candidate endpoints of each match in order.
type DetailFetcher struct {
	transport  JSONTransport
	endpoints  EndpointCatalog
	normalizer MatchNormalizer
	details    detail.Repository
	rounds     round.Repository
	writer     round.ResultWriter
	reqOpts    RequestOptions
	logger     *logging.Logger
	now        func() time.Time
}

func NewDetailFetcher(cfg DetailFetcherConfig) *DetailFetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DetailFetcher{
		transport:  cfg.Transport,
		endpoints:  cfg.Endpoints,
		normalizer: cfg.Normalizer,
		details:    cfg.Details,
		rounds:     cfg.Rounds,
		writer:     cfg.Writer,
		reqOpts:    cfg.RequestOptions,
		logger:     logger,
		now:        now,
	}
}

type jobOutcome string

const (
	outcomeOK      jobOutcome = "ok"
	outcomeMissing jobOutcome = "missing"
	outcomeError   jobOutcome = "error"
	outcomeSkipped jobOutcome = "skipped"
)

type progressTracker struct {
	mu       sync.Mutex
	started  time.Time
	total    int
	summary  FetchSummary
	callback func(FetchProgress)
}

func (t *progressTracker) record(outcome jobOutcome) {
	t.mu.Lock()
	switch outcome {
	case outcomeOK:
		t.summary.OK++
	case outcomeMissing:
		t.summary.Fail++
		t.summary.Missing++
	case outcomeError:
		t.summary.Fail++
		t.summary.Errors++
	case outcomeSkipped:
		t.summary.Skipped++
		t.mu.Unlock()
		return
	}

	done := t.summary.OK + t.summary.Fail
	elapsed := time.Since(t.started)
	progress := FetchProgress{
		Done:    done,
		Total:   t.total,
		OK:      t.summary.OK,
		Fail:    t.summary.Fail,
		Elapsed: elapsed,
	}
	if done > 0 && done < t.total {
		progress.ETA = time.Duration(float64(elapsed) / float64(done) * float64(t.total-done))
	}
	callback := t.callback
	t.mu.Unlock()

	if callback != nil {
		callback(progress)
	}
}

// Run processes every job of queue. Per-match failures are persisted and
// counted, never returned. Jobs not started before ctx is done are skipped.
func (f *DetailFetcher) Run(ctx context.Context, queue *MatchQueue, opts RunOptions) (FetchSummary, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DetailFetcher.Run")
	defer span.End()

	tracker := &progressTracker{
		started:  time.Now(),
		total:    queue.Total(),
		callback: opts.OnProgress,
	}
	tracker.summary.Queued = queue.Total()
	if queue.Total() == 0 {
		return tracker.summary, nil
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultFetchConcurrency
	}
	if workers > queue.Total() {
		workers = queue.Total()
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return FetchSummary{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			for {
				job, ok := queue.Next(ctx)
				if !ok {
					return
				}
				metrics.QueueDepth.Set(float64(queue.Len()))
				tracker.record(f.process(ctx, job, opts.OwnPlayerID))
			}
		}); err != nil {
			wg.Done()
			f.logger.ErrorContext(ctx, "submit fetch worker failed", "error", err)
			break
		}
	}
	wg.Wait()

	// Anything still queued was never started.
	for range queue.jobs {
		tracker.record(outcomeSkipped)
	}
	metrics.QueueDepth.Set(0)

	tracker.mu.Lock()
	summary := tracker.summary
	tracker.mu.Unlock()
	summary.Duration = time.Since(tracker.started)
	if summary.Skipped > 0 {
		metrics.FetchJobsTotal.WithLabelValues(string(outcomeSkipped)).Add(float64(summary.Skipped))
	}
	return summary, nil
}

func (f *DetailFetcher) process(ctx context.Context, job FetchJob, ownPlayerID string) jobOutcome {
	start := time.Now()
	m := job.Match

	endpoint, raw, payload, err := f.fetchCandidates(ctx, m)
	if err != nil && ctx.Err() != nil {
		return outcomeSkipped
	}

	// Persistence must finish even when the run is being cancelled.
	writeCtx := context.WithoutCancel(ctx)

	var outcome jobOutcome
	if err == nil {
		err = f.saveSuccess(ctx, writeCtx, job, endpoint, raw, payload, ownPlayerID)
		if err == nil {
			outcome = outcomeOK
		}
	}
	if err != nil {
		outcome = f.saveFailure(writeCtx, job, err)
	}

	metrics.FetchJobsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.FetchJobDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
	return outcome
}

func (f *DetailFetcher) fetchCandidates(ctx context.Context, m match.FeedMatch) (string, []byte, map[string]any, error) {
	var urls []string
	if f.endpoints != nil {
		urls = f.endpoints.Candidates(m)
	}

	fe := &FetchError{MatchID: m.ID}
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return "", nil, nil, err
		}

		resp, err := f.transport.GetJSON(ctx, u, f.reqOpts)
		if err != nil {
			metrics.EndpointAttemptsTotal.WithLabelValues(string(m.Family), "transport").Inc()
			fe.Attempts = append(fe.Attempts, FetchAttempt{URL: u, Reason: err.Error()})
			continue
		}
		if !resp.OK() {
			metrics.EndpointAttemptsTotal.WithLabelValues(string(m.Family), statusClass(resp.Status)).Inc()
			fe.Attempts = append(fe.Attempts, FetchAttempt{URL: u, Status: resp.Status, Reason: fmt.Sprintf("HTTP %d", resp.Status)})
			continue
		}

		var payload map[string]any
		if err := sonic.Unmarshal(resp.Body, &payload); err != nil || payload == nil {
			metrics.EndpointAttemptsTotal.WithLabelValues(string(m.Family), "invalid_body").Inc()
			fe.Attempts = append(fe.Attempts, FetchAttempt{URL: u, Status: resp.Status, Reason: "response is not a JSON object"})
			continue
		}

		metrics.EndpointAttemptsTotal.WithLabelValues(string(m.Family), "ok").Inc()
		return u, resp.Body, payload, nil
	}
	return "", nil, nil, classifyFetchError(fe)
}

func (f *DetailFetcher) saveSuccess(ctx, writeCtx context.Context, job FetchJob, endpoint string, raw []byte, payload map[string]any, ownPlayerID string) error {
	m := job.Match

	prior := make(map[int]round.Round)
	if f.rounds != nil {
		stored, err := f.rounds.ListByMatchIDs(ctx, []string{m.ID})
		if err != nil {
			f.logger.WarnContext(ctx, "load stored rounds failed, normalizing without them", "match_id", m.ID, "error", err)
		}
		for _, r := range stored {
			prior[r.RoundNumber] = r
		}
	}

	item, rounds, err := f.normalizer.Normalize(ctx, NormalizeInput{
		Match:       m,
		Payload:     payload,
		Raw:         raw,
		Endpoint:    endpoint,
		OwnPlayerID: ownPlayerID,
		PriorRounds: prior,
		FetchedAt:   f.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("normalize payload from %s: %w", endpoint, err)
	}

	if err := f.writer.SaveMatchResult(writeCtx, item, rounds); err != nil {
		return fmt.Errorf("save match result: %w", err)
	}

	f.logger.DebugContext(ctx, "match detail stored",
		"match_id", m.ID,
		"endpoint", endpoint,
		"rounds", len(rounds),
	)
	return nil
}

func (f *DetailFetcher) saveFailure(ctx context.Context, job FetchJob, cause error) jobOutcome {
	outcome := outcomeError
	status := detail.StatusError
	if crerr.Is(cause, ErrMatchUnavailable) {
		outcome = outcomeMissing
		status = detail.StatusMissing
	}

	row := failureRow(job, status, cause, f.now().UTC())
	if err := f.details.Upsert(ctx, row); err != nil {
		f.logger.ErrorContext(ctx, "persist failed detail row", "match_id", job.Match.ID, "error", err)
	}

	f.logger.WarnContext(ctx, "match detail fetch failed",
		"match_id", job.Match.ID,
		"status", row.Status,
		"error", cause,
	)
	return outcome
}

// failureRow applies a failed attempt to the stored row. An ok row keeps its
// data; only the error text and enrichment check time move.
func failureRow(job FetchJob, status detail.Status, cause error, now time.Time) detail.GameDetail {
	row := detail.Placeholder(job.Match)
	if job.Previous != nil {
		row = *job.Previous
	}

	row.Status = detail.NextStatus(row.Status, status)
	row.Error = cause.Error()
	if row.Status == detail.StatusOK {
		if len(row.MissingFields) > 0 {
			row.MissingFieldsCheckedAt = &now
		}
		return row
	}

	row.FetchedAt = now
	row.Family = job.Match.Family
	if !job.Match.PlayedAt.IsZero() {
		row.PlayedAt = job.Match.PlayedAt
	}
	return row
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	default:
		return "http_other"
	}
}
