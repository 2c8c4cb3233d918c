// Package pipeline runs one end-to-end collection pass: fetch submissions
// from every configured community, drop the already-seen ones, classify the
// rest, and commit the enriched records to the sink. The orchestrator is
// stateless across runs; durable state lives in the seen-store and the sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finbert-ci/collector/pkg/config"
	"github.com/finbert-ci/collector/pkg/dedup"
	"github.com/finbert-ci/collector/pkg/metrics"
	"github.com/finbert-ci/collector/pkg/reddit"
	"github.com/finbert-ci/collector/pkg/reporting"
	"github.com/finbert-ci/collector/pkg/sentiment"
	"github.com/finbert-ci/collector/pkg/sink"
)

// RunState tracks the orchestrator's position in the run lifecycle.
type RunState int

const (
	StateFetch RunState = iota
	StateClassify
	StateCommit
	StateReport
	StateCompleted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateFetch:
		return "FETCH"
	case StateClassify:
		return "CLASSIFY"
	case StateCommit:
		return "COMMIT"
	case StateReport:
		return "REPORT"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Source fetches recent submissions for one community.
type Source interface {
	Fetch(ctx context.Context, community string, limit int) ([]reddit.Submission, error)
	Close() error
}

// SeenStore is the membership surface the orchestrator needs from the
// dedup store.
type SeenStore interface {
	Seen(id string) (bool, error)
	MarkSeen(id string, firstSeen int64) error
	FirstSeen(id string) (int64, bool, error)
	Stats() (dedup.Stats, error)
	Close() error
}

// Sink appends enriched records to durable output.
type Sink interface {
	Append(records ...sink.Record) error
	Close() error
}

// Orchestrator wires the run components together and executes one pass.
type Orchestrator struct {
	cfg      *config.Config
	source   Source
	store    SeenStore
	analyzer sentiment.Analyzer
	out      Sink
	metrics  *metrics.Registry
	logger   *reporting.Logger

	state RunState
}

// New assembles an orchestrator from already-constructed components. The
// caller owns component lifetimes; Execute closes nothing.
func New(cfg *config.Config, source Source, store SeenStore, analyzer sentiment.Analyzer, out Sink, m *metrics.Registry, logger *reporting.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		source:   source,
		store:    store,
		analyzer: analyzer,
		out:      out,
		metrics:  m,
		logger:   logger,
		state:    StateFetch,
	}
}

// pendingSubmission is a fetched, not-yet-seen submission awaiting
// classification.
type pendingSubmission struct {
	sub  reddit.Submission
	text string
}

// Execute runs one complete collection pass. The returned report is always
// populated; the error, when non-nil, is the run's fatal error and carries
// the taxonomy kind for exit-code mapping.
func (o *Orchestrator) Execute(ctx context.Context) (*reporting.RunReport, error) {
	start := time.Now()
	runID := o.cfg.Pipeline.RunID
	if runID == "" {
		runID = start.Format("20060102_150405")
	}

	report := &reporting.RunReport{
		RunID:           runID,
		StartTime:       start,
		Status:          reporting.StatusCompleted,
		SentimentCounts: make(map[string]int),
	}

	if o.cfg.Pipeline.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Pipeline.RunDeadline)
		defer cancel()
	}

	o.logger.Info("run started",
		"run_id", runID,
		"communities", len(o.cfg.Pipeline.Communities),
		"fetch_limit", o.cfg.Pipeline.FetchLimit)

	err := o.run(ctx, runID, report)

	o.finish(report, start, err)
	return report, err
}

// run walks the fetch, classify and commit phases. The report accumulates
// counters as phases progress.
func (o *Orchestrator) run(ctx context.Context, runID string, report *reporting.RunReport) error {
	o.transition(StateFetch)
	pending, err := o.fetchAll(ctx, report)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	deadlineHit := errors.Is(err, context.DeadlineExceeded)

	o.transition(StateClassify)
	// Everything fetched before expiry still gets classified and committed:
	// the batches run under a detached context so an expired deadline lets
	// them land. Only an outright cancellation abandons the backlog.
	commitCtx := context.WithoutCancel(ctx)

	batchSize := o.cfg.Sentiment.BatchSize
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("run canceled: %w", err)
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.text
		}
		results, err := o.analyzer.Analyze(commitCtx, texts)
		if err != nil {
			return fmt.Errorf("classify batch: %w", err)
		}

		o.transition(StateCommit)
		if err := o.commitBatch(batch, results, runID, report); err != nil {
			return err
		}
		o.state = StateClassify
	}

	if !deadlineHit {
		deadlineHit = errors.Is(ctx.Err(), context.DeadlineExceeded)
	}
	if deadlineHit {
		return fmt.Errorf("run deadline of %s exceeded: %w",
			o.cfg.Pipeline.RunDeadline, context.DeadlineExceeded)
	}
	return nil
}

// fetchAll walks the configured communities in order and returns the unseen
// submissions. A deadline expiry mid-walk returns what was collected so far
// together with context.DeadlineExceeded.
func (o *Orchestrator) fetchAll(ctx context.Context, report *reporting.RunReport) ([]pendingSubmission, error) {
	var pending []pendingSubmission

	for _, community := range o.cfg.Pipeline.Communities {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("skipping remaining communities", "next", community, "reason", err)
			report.Communities = append(report.Communities, reporting.CommunityStats{
				Community: community,
				Skipped:   true,
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return pending, context.DeadlineExceeded
			}
			return pending, fmt.Errorf("run canceled: %w", err)
		}

		subs, err := o.fetchCommunity(ctx, community)
		if err != nil {
			kind := KindOf(err)
			o.metrics.SourceError(string(kind))
			o.metrics.PipelineError("source", string(kind))
			report.Communities = append(report.Communities, reporting.CommunityStats{
				Community: community,
				Error:     err.Error(),
			})
			report.Errors = append(report.Errors, err.Error())

			// A rejected credential will fail every community; stop here.
			if errors.Is(err, reddit.ErrAuth) {
				return pending, fmt.Errorf("fetch r/%s: %w", community, err)
			}
			o.logger.Error("community fetch failed, continuing",
				"community", community, "error_kind", string(kind), "error", err)
			continue
		}

		o.metrics.PostsFetched(community, len(subs))
		report.Fetched += len(subs)
		report.Communities = append(report.Communities, reporting.CommunityStats{
			Community: community,
			Fetched:   len(subs),
		})

		for _, sub := range subs {
			seen, err := o.store.Seen(sub.ID)
			if err != nil {
				o.metrics.PipelineError("dedup", string(KindDedupRead))
				return pending, fmt.Errorf("seen-store lookup for %s: %w", sub.ID, err)
			}
			if seen {
				o.metrics.PostDeduplicated()
				report.Deduplicated++
				if ts, found, err := o.store.FirstSeen(sub.ID); err == nil && found {
					o.logger.Debug("duplicate submission skipped",
						"post_id", sub.ID, "first_seen", ts)
				}
				continue
			}
			pending = append(pending, pendingSubmission{
				sub:  sub,
				text: sentiment.CombineText(sub.Title, sub.Content),
			})
		}

		o.logger.Info("community walked",
			"community", community,
			"fetched", len(subs),
			"pending", len(pending))
	}

	return pending, nil
}

// fetchCommunity calls the source, retrying exactly once after a rate-limit
// response. The back-off honours the server's suggestion, capped by
// configuration.
func (o *Orchestrator) fetchCommunity(ctx context.Context, community string) ([]reddit.Submission, error) {
	subs, err := o.source.Fetch(ctx, community, o.cfg.Pipeline.FetchLimit)
	if err == nil || !errors.Is(err, reddit.ErrRateLimit) {
		return subs, err
	}

	wait := o.cfg.Pipeline.MaxRateLimitBackoff
	var rl *reddit.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 && rl.RetryAfter < wait {
		wait = rl.RetryAfter
	}
	o.metrics.SourceError(string(KindSourceRateLimit))
	o.logger.Warn("rate limited, backing off",
		"community", community, "backoff", wait.String())

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: back-off interrupted: %v", reddit.ErrRateLimit, ctx.Err())
	case <-t.C:
	}

	return o.source.Fetch(ctx, community, o.cfg.Pipeline.FetchLimit)
}

// commitBatch lands one classified batch. Per record: sink write first, then
// the seen-store mark, then counters. A failed write drops the record without
// marking it seen, so a later run fetches it again.
func (o *Orchestrator) commitBatch(batch []pendingSubmission, results []sentiment.Result, runID string, report *reporting.RunReport) error {
	now := time.Now().Unix()

	for i, p := range batch {
		res := results[i]
		rec := sink.Record{
			PostID:      p.sub.ID,
			Title:       p.sub.Title,
			Content:     p.sub.Content,
			Score:       p.sub.Score,
			CreatedUTC:  p.sub.CreatedUTC,
			Subreddit:   p.sub.Subreddit,
			URL:         p.sub.URL,
			NumComments: p.sub.NumComments,

			SentimentLabel:      res.Label,
			SentimentConfidence: res.Confidence,
			SentimentPositive:   res.Positive,
			SentimentNegative:   res.Negative,
			SentimentNeutral:    res.Neutral,
			SentimentScore:      res.Score,

			RunID: runID,
		}

		if err := o.out.Append(rec); err != nil {
			o.metrics.PipelineError("sink", string(KindSinkWrite))
			report.Errors = append(report.Errors, err.Error())
			o.logger.Error("sink write failed, dropping record",
				"post_id", p.sub.ID, "error", err)
			continue
		}

		if err := o.store.MarkSeen(p.sub.ID, now); err != nil {
			o.metrics.PipelineError("dedup", string(KindDedupWrite))
			report.Errors = append(report.Errors, err.Error())
			o.logger.Error("seen-store mark failed, record may repeat next run",
				"post_id", p.sub.ID, "error", err)
			continue
		}

		o.metrics.PostProcessed(res.Label)
		report.Processed++
		report.SentimentCounts[res.Label]++
	}

	return nil
}

// finish closes out the run: terminal state, health gauges, duration
// histogram and the report's outcome fields.
func (o *Orchestrator) finish(report *reporting.RunReport, start time.Time, err error) {
	o.transition(StateReport)

	if stats, statsErr := o.store.Stats(); statsErr == nil {
		o.logger.Info("seen-store state",
			"stored_ids", stats.StoredIDs,
			"filter_capacity", stats.FilterCapacity,
			"false_positive_rate", stats.FalsePositiveRate)
	}

	elapsed := time.Since(start)
	o.metrics.ObserveRunDuration(elapsed)
	o.metrics.UpdateMemoryUsage()

	report.EndTime = start.Add(elapsed)
	report.Duration = elapsed.Round(time.Millisecond).String()

	switch {
	case err == nil:
		o.transition(StateCompleted)
		report.Success = true
		report.Status = reporting.StatusCompleted
		report.Message = "run completed"
		o.metrics.SetPipelineStatus(metrics.StatusHealthy)
		o.metrics.MarkSuccessfulRun(report.EndTime)
	case errors.Is(err, context.DeadlineExceeded):
		o.transition(StateFailed)
		report.Status = reporting.StatusDeadline
		report.Message = err.Error()
		o.metrics.SetPipelineStatus(metrics.StatusFailed)
	default:
		o.transition(StateFailed)
		report.Status = reporting.StatusFailed
		report.Message = err.Error()
		o.metrics.PipelineError("pipeline", string(KindOf(err)))
		o.metrics.SetPipelineStatus(metrics.StatusFailed)
	}

	o.logger.Info("run finished",
		"run_id", report.RunID,
		"status", string(report.Status),
		"fetched", report.Fetched,
		"deduplicated", report.Deduplicated,
		"processed", report.Processed,
		"duration", report.Duration)
}

// transition moves the state machine forward with a log trace.
func (o *Orchestrator) transition(next RunState) {
	if next != o.state {
		o.logger.Debug("state transition", "from", o.state.String(), "to", next.String())
	}
	o.state = next
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() RunState {
	return o.state
}
