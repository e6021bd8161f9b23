package usecase

import (
	"time"

	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
)

const (
	DefaultMissingRetryAfter    = 7 * 24 * time.Hour
	DefaultEnrichmentRetryAfter = 30 * 24 * time.Hour
)

type PlanReason string

const (
	PlanReasonNew          PlanReason = "new"
	PlanReasonIncomplete   PlanReason = "incomplete"
	PlanReasonEnrichment   PlanReason = "enrichment"
	PlanReasonMissingStale PlanReason = "missing_stale"
	PlanReasonErrorRetry   PlanReason = "error_retry"
	PlanReasonUnknown      PlanReason = "unknown_status"
)

type PlanOptions struct {
	RetryErrors          bool
	Now                  time.Time
	MissingRetryAfter    time.Duration
	EnrichmentRetryAfter time.Duration
}

func DefaultPlanOptions() PlanOptions {
	return PlanOptions{
		RetryErrors:          true,
		MissingRetryAfter:    DefaultMissingRetryAfter,
		EnrichmentRetryAfter: DefaultEnrichmentRetryAfter,
	}
}

type WorkPlan struct {
	ToFetch []match.FeedMatch
	// ToMarkMissing holds placeholder rows for matches with no stored detail.
	ToMarkMissing []detail.GameDetail
	Reasons       map[PlanReason]int
	Skipped       int
	Filtered      int
}

// PlanWork decides which candidate matches need a detail fetch. Each match
// appears at most once in ToFetch, in candidate order.
func PlanWork(candidates []match.FeedMatch, stored map[string]detail.GameDetail, roundCounts map[string]int, opts PlanOptions) WorkPlan {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.MissingRetryAfter <= 0 {
		opts.MissingRetryAfter = DefaultMissingRetryAfter
	}
	if opts.EnrichmentRetryAfter <= 0 {
		opts.EnrichmentRetryAfter = DefaultEnrichmentRetryAfter
	}

	plan := WorkPlan{
		ToFetch: make([]match.FeedMatch, 0, len(candidates)),
		Reasons: make(map[PlanReason]int),
	}
	seen := make(map[string]struct{}, len(candidates))

	for _, m := range candidates {
		if m.ID == "" || !m.Family.Ingestible() {
			plan.Filtered++
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}

		existing, ok := stored[m.ID]
		if !ok {
			plan.ToMarkMissing = append(plan.ToMarkMissing, detail.Placeholder(m))
			plan.enqueue(m, PlanReasonNew)
			continue
		}

		reason, fetch := decide(existing, roundCounts[m.ID], opts)
		if !fetch {
			plan.Skipped++
			continue
		}
		plan.enqueue(m, reason)
	}
	return plan
}

func (p *WorkPlan) enqueue(m match.FeedMatch, reason PlanReason) {
	p.ToFetch = append(p.ToFetch, m)
	p.Reasons[reason]++
}

func decide(d detail.GameDetail, storedRounds int, opts PlanOptions) (PlanReason, bool) {
	switch d.Status {
	case detail.StatusOK:
		if storedRounds == 0 || storedRounds < d.TotalRounds {
			return PlanReasonIncomplete, true
		}
		if len(d.MissingFields) > 0 &&
			(d.MissingFieldsCheckedAt == nil || !opts.Now.Before(d.MissingFieldsCheckedAt.Add(opts.EnrichmentRetryAfter))) {
			return PlanReasonEnrichment, true
		}
		return "", false
	case detail.StatusMissing:
		if d.FetchedAt.IsZero() || !opts.Now.Before(d.FetchedAt.Add(opts.MissingRetryAfter)) {
			return PlanReasonMissingStale, true
		}
		return "", false
	case detail.StatusError:
		if opts.RetryErrors {
			return PlanReasonErrorRetry, true
		}
		return "", false
	default:
		return PlanReasonUnknown, true
	}
}
