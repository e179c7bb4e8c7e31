package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/repository"
	"github.com/avoronov/gitpulse/pkg/logger/sl"
)

// CalcOptions selects what a metrics calculation covers. An empty Scope
// walks all three scopes; a scope without an explicit id walks every
// instance of that scope.
type CalcOptions struct {
	Scope        domain.MetricScope `json:"scope,omitempty"`
	ActorID      *int64             `json:"actorId,omitempty"`
	RepositoryID *int64             `json:"repositoryId,omitempty"`

	Period domain.MetricPeriod `json:"period"`

	// From/To bound the span. Zero From defaults to the start of the
	// previous period; zero To defaults to now.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	// Recalculate overwrites existing samples instead of skipping them.
	Recalculate bool `json:"recalculate"`
}

// CalcResult is the aggregate outcome of one calculation run.
type CalcResult struct {
	Success  bool      `json:"success"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	SamplesWritten int `json:"samplesWritten"`
	SamplesSkipped int `json:"samplesSkipped"`

	Errors []string `json:"errors,omitempty"`
}

// CalcStatus is the admin-surface snapshot.
type CalcStatus struct {
	Running    bool        `json:"running"`
	LastResult *CalcResult `json:"lastResult,omitempty"`
}

// MetricsEngine derives periodic rollup samples from persisted entities.
// It holds its own in-progress guard, decoupled from the orchestrator's:
// a calculation may overlap an ingestion pass and read partially-synced
// data. Samples converge on the next scheduled run.
type MetricsEngine struct {
	log     *slog.Logger
	queries repository.MetricsQueryStore
	samples repository.MetricSampleStore

	mu         sync.Mutex
	running    bool
	lastResult *CalcResult
}

func NewMetricsEngine(log *slog.Logger, queries repository.MetricsQueryStore, samples repository.MetricSampleStore) *MetricsEngine {
	return &MetricsEngine{
		log:     log,
		queries: queries,
		samples: samples,
	}
}

// The rollup measures of one sample. Every sample carries the full set so
// consumers never branch on which fields exist.
const metricNameActivitySummary = "activity_summary"

// Composite score weights. An explicit heuristic, not a learned model;
// every score is clamped to [0,100].
const (
	productivityPerOpened  = 8.0
	productivityPerMerged  = 12.0
	productivityPerReview  = 5.0
	productivityPerComment = 1.5
	productivityPerCommit  = 3.0

	qualityMergeRateWeight    = 0.4
	qualityApprovalRateWeight = 0.4
	qualityPerReviewReceived  = 4.0

	collaborationPerCollaborator = 12.0
	collaborationPerReviewGiven  = 6.0
	collaborationPerCommentGiven = 2.0
	collaborationPerRepository   = 8.0

	velocityPerMerged = 10.0
	// Merging within a day scores full marks; the penalty grows linearly
	// up to one week.
	velocityMergeHorizonMin = 7 * 24 * 60.0
)

// Calculate runs one metrics pass. A call while another calculation is
// active is rejected synchronously with apperrors.ErrCalcInProgress.
func (e *MetricsEngine) Calculate(ctx context.Context, opts CalcOptions) (*CalcResult, error) {
	const op = "internal.service.MetricsEngine.Calculate"

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, apperrors.ErrCalcInProgress
	}
	e.running = true
	e.mu.Unlock()

	result := &CalcResult{Started: time.Now().UTC()}

	log := e.log.With(slog.String("op", op),
		slog.String("scope", string(opts.Scope)),
		slog.String("period", string(opts.Period)))
	log.Info("metrics calculation started")

	err := e.calculate(ctx, log, opts, result)

	result.Finished = time.Now().UTC()
	result.Success = err == nil && len(result.Errors) == 0

	e.mu.Lock()
	e.running = false
	e.lastResult = result
	e.mu.Unlock()

	if err != nil {
		log.Error("metrics calculation aborted", sl.Err(err))
		return result, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("metrics calculation finished",
		slog.Bool("success", result.Success),
		slog.Int("written", result.SamplesWritten),
		slog.Int("skipped", result.SamplesSkipped))

	return result, nil
}

// Status returns a snapshot for the admin surface.
func (e *MetricsEngine) Status() CalcStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return CalcStatus{Running: e.running, LastResult: e.lastResult}
}

func (e *MetricsEngine) calculate(ctx context.Context, log *slog.Logger, opts CalcOptions, result *CalcResult) error {
	period := opts.Period
	if period == "" {
		period = domain.PeriodDaily
	}

	now := time.Now().UTC()
	to := opts.To
	if to.IsZero() {
		to = now
	}
	from := opts.From
	if from.IsZero() {
		from = previousPeriodStart(to, period)
	}

	periods := generatePeriods(from, to, period)
	if len(periods) == 0 {
		return nil
	}

	scopes := []domain.MetricScope{domain.ScopeActor, domain.ScopeRepository, domain.ScopeTeam}
	if opts.Scope != "" {
		scopes = []domain.MetricScope{opts.Scope}
	}

	for _, scope := range scopes {
		switch scope {
		case domain.ScopeActor:
			ids, err := e.scopeIDs(ctx, opts.ActorID, e.queries.ListActorIDs)
			if err != nil {
				return fmt.Errorf("failed to list actors: %w", err)
			}
			for _, id := range ids {
				e.calculateScope(ctx, log, result, periods, period, scopeKey{scope: scope, actorID: &id}, opts.Recalculate)
			}

		case domain.ScopeRepository:
			ids, err := e.scopeIDs(ctx, opts.RepositoryID, e.queries.ListRepositoryIDs)
			if err != nil {
				return fmt.Errorf("failed to list repositories: %w", err)
			}
			for _, id := range ids {
				e.calculateScope(ctx, log, result, periods, period, scopeKey{scope: scope, repositoryID: &id}, opts.Recalculate)
			}

		case domain.ScopeTeam:
			e.calculateScope(ctx, log, result, periods, period, scopeKey{scope: scope}, opts.Recalculate)

		default:
			return fmt.Errorf("%w: unknown scope '%s'", apperrors.ErrInvalidRequest, scope)
		}
	}

	return nil
}

func (e *MetricsEngine) scopeIDs(ctx context.Context, explicit *int64, list func(context.Context) ([]int64, error)) ([]int64, error) {
	if explicit != nil {
		return []int64{*explicit}, nil
	}
	return list(ctx)
}

type scopeKey struct {
	scope        domain.MetricScope
	actorID      *int64
	repositoryID *int64
}

// calculateScope computes one scope instance across all periods. Failures
// are recorded and the loop continues; one broken period never aborts the
// run.
func (e *MetricsEngine) calculateScope(ctx context.Context, log *slog.Logger, result *CalcResult, periods []periodBounds, period domain.MetricPeriod, key scopeKey, recalculate bool) {
	for _, p := range periods {
		written, err := e.calculatePeriod(ctx, p, period, key, recalculate)
		if err != nil {
			log.Error("failed to calculate period",
				slog.String("scope", string(key.scope)),
				slog.Time("period_start", p.start), sl.Err(err))
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s %s @ %s: %v", key.scope, period, p.start.Format(time.RFC3339), err))
			continue
		}

		if written {
			result.SamplesWritten++
		} else {
			result.SamplesSkipped++
		}
	}
}

func (e *MetricsEngine) calculatePeriod(ctx context.Context, p periodBounds, period domain.MetricPeriod, key scopeKey, recalculate bool) (bool, error) {
	metricKey := repository.MetricKey{
		ActorID:      key.actorID,
		RepositoryID: key.repositoryID,
		MetricType:   key.scope,
		MetricName:   metricNameActivitySummary,
		Period:       period,
		PeriodStart:  p.start,
	}

	if !recalculate {
		exists, err := e.samples.ExistsForKey(ctx, metricKey)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	agg, err := e.aggregates(ctx, key, p)
	if err != nil {
		return false, err
	}

	measures := buildMeasures(agg)
	dataPoints := countDataPoints(measures)

	sample := &domain.MetricSample{
		ActorID:      key.actorID,
		RepositoryID: key.repositoryID,
		MetricType:   key.scope,
		MetricName:   metricNameActivitySummary,
		Period:       period,
		PeriodStart:  p.start,
		PeriodEnd:    p.end,
		Values:       measures,
		DataPoints:   dataPoints,
		Confidence:   float64(dataPoints) / float64(len(measures)),
		CalculatedAt: time.Now().UTC(),
	}

	if recalculate {
		return true, e.samples.Upsert(ctx, sample)
	}
	return true, e.samples.Insert(ctx, sample)
}

func (e *MetricsEngine) aggregates(ctx context.Context, key scopeKey, p periodBounds) (*repository.PeriodAggregates, error) {
	switch {
	case key.actorID != nil:
		return e.queries.ActorAggregates(ctx, *key.actorID, p.start, p.end)
	case key.repositoryID != nil:
		return e.queries.RepositoryAggregates(ctx, *key.repositoryID, p.start, p.end)
	default:
		return e.queries.TeamAggregates(ctx, p.start, p.end)
	}
}

// buildMeasures derives the full measure set from raw aggregates: counts,
// ratios and the four composite scores.
func buildMeasures(agg *repository.PeriodAggregates) domain.JSONMap {
	mergeRate := ratio(agg.Merged, agg.Opened) * 100
	approvalRate := ratio(agg.ApprovalsGiven, agg.ReviewsGiven) * 100
	avgReviewsPerActivity := ratio(agg.ReviewsReceived, agg.Opened)
	avgCommentsPerActivity := ratio(agg.CommentsReceived, agg.Opened)

	productivity := clampScore(
		float64(agg.Opened)*productivityPerOpened +
			float64(agg.Merged)*productivityPerMerged +
			float64(agg.ReviewsGiven)*productivityPerReview +
			float64(agg.CommentsGiven)*productivityPerComment +
			float64(agg.Commits)*productivityPerCommit)

	quality := clampScore(
		mergeRate*qualityMergeRateWeight +
			approvalRate*qualityApprovalRateWeight +
			avgReviewsPerActivity*qualityPerReviewReceived)

	collaboration := clampScore(
		float64(agg.DistinctCollaborators)*collaborationPerCollaborator +
			float64(agg.ReviewsGiven)*collaborationPerReviewGiven +
			float64(agg.CommentsGiven)*collaborationPerCommentGiven +
			float64(agg.DistinctRepositories)*collaborationPerRepository)

	velocity := 0.0
	if agg.Merged > 0 {
		speed := clampScore(100 * (1 - agg.AvgTimeToMergeMin/velocityMergeHorizonMin))
		velocity = clampScore(speed + float64(agg.Merged)*velocityPerMerged)
	}

	return domain.JSONMap{
		"pullRequestsOpened": agg.Opened,
		"pullRequestsClosed": agg.Closed,
		"pullRequestsMerged": agg.Merged,

		"reviewsGiven":    agg.ReviewsGiven,
		"reviewsReceived": agg.ReviewsReceived,
		"approvalsGiven":  agg.ApprovalsGiven,

		"commentsGiven":    agg.CommentsGiven,
		"commentsReceived": agg.CommentsReceived,

		"commitCount": agg.Commits,
		"additions":   agg.Additions,
		"deletions":   agg.Deletions,

		"avgTimeToFirstReviewMin": agg.AvgTimeToFirstReviewMin,
		"avgTimeToMergeMin":       agg.AvgTimeToMergeMin,

		"distinctCollaborators": agg.DistinctCollaborators,
		"distinctRepositories":  agg.DistinctRepositories,

		"mergeRate":              mergeRate,
		"approvalRate":           approvalRate,
		"avgReviewsPerActivity":  avgReviewsPerActivity,
		"avgCommentsPerActivity": avgCommentsPerActivity,

		"productivityScore":  productivity,
		"qualityScore":       quality,
		"collaborationScore": collaboration,
		"velocityScore":      velocity,
	}
}

// countDataPoints counts non-zero measures; confidence is their share of
// the total. A data-quality signal for consumers, never read internally.
func countDataPoints(measures domain.JSONMap) int {
	n := 0
	for _, v := range measures {
		switch x := v.(type) {
		case int:
			if x != 0 {
				n++
			}
		case float64:
			if x != 0 {
				n++
			}
		}
	}
	return n
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type periodBounds struct {
	start time.Time
	end   time.Time
}

// generatePeriods yields the aligned periods covering [from, to). The first
// period starts at from's natural boundary; the last one covers to.
func generatePeriods(from, to time.Time, period domain.MetricPeriod) []periodBounds {
	if !from.Before(to) {
		return nil
	}

	var out []periodBounds
	for start := alignPeriodStart(from, period); start.Before(to); {
		end := nextPeriodStart(start, period)
		out = append(out, periodBounds{start: start, end: end})
		start = end
	}
	return out
}

// alignPeriodStart truncates t to the period's natural boundary in UTC:
// top of the hour, midnight, ISO week start (Monday), first of the month,
// first month of the quarter, January 1st.
func alignPeriodStart(t time.Time, period domain.MetricPeriod) time.Time {
	t = t.UTC()

	switch period {
	case domain.PeriodHourly:
		return t.Truncate(time.Hour)
	case domain.PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case domain.PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case domain.PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case domain.PeriodQuarterly:
		quarterStart := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC)
	case domain.PeriodYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func nextPeriodStart(start time.Time, period domain.MetricPeriod) time.Time {
	switch period {
	case domain.PeriodHourly:
		return start.Add(time.Hour)
	case domain.PeriodDaily:
		return start.AddDate(0, 0, 1)
	case domain.PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case domain.PeriodMonthly:
		return start.AddDate(0, 1, 0)
	case domain.PeriodQuarterly:
		return start.AddDate(0, 3, 0)
	case domain.PeriodYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func previousPeriodStart(t time.Time, period domain.MetricPeriod) time.Time {
	current := alignPeriodStart(t, period)

	switch period {
	case domain.PeriodHourly:
		return current.Add(-time.Hour)
	case domain.PeriodDaily:
		return current.AddDate(0, 0, -1)
	case domain.PeriodWeekly:
		return current.AddDate(0, 0, -7)
	case domain.PeriodMonthly:
		return current.AddDate(0, -1, 0)
	case domain.PeriodQuarterly:
		return current.AddDate(0, -3, 0)
	case domain.PeriodYearly:
		return current.AddDate(-1, 0, 0)
	default:
		return current.AddDate(0, 0, -1)
	}
}
