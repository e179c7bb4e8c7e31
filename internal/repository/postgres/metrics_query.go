package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/repository"
)

// MetricsQueryRepository is the read side the MetricsEngine aggregates over.
// Each aggregate is computed with a handful of small scans rather than one
// monolithic query; the engine calls this once per scope instance per
// period, so the work per call stays bounded.
type MetricsQueryRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewMetricsQueryRepository(db *sqlx.DB, log *slog.Logger) *MetricsQueryRepository {
	return &MetricsQueryRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *MetricsQueryRepository) intQuery(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	return n, nil
}

func (r *MetricsQueryRepository) floatQuery(ctx context.Context, op, query string, args ...any) (float64, error) {
	var n float64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}
	return n, nil
}

func (r *MetricsQueryRepository) ActorAggregates(ctx context.Context, actorID int64, from, to time.Time) (*repository.PeriodAggregates, error) {
	const op = "internal.repository.postgres.MetricsQueryRepository.ActorAggregates"

	agg := &repository.PeriodAggregates{}
	var err error

	steps := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&agg.Opened,
			`SELECT COUNT(*) FROM activities WHERE author_id = $1 AND created_at >= $2 AND created_at < $3`,
			[]any{actorID, from, to}},
		{&agg.Closed,
			`SELECT COUNT(*) FROM activities WHERE author_id = $1 AND state = 'closed' AND closed_at >= $2 AND closed_at < $3`,
			[]any{actorID, from, to}},
		{&agg.Merged,
			`SELECT COUNT(*) FROM activities WHERE author_id = $1 AND merged AND merged_at >= $2 AND merged_at < $3`,
			[]any{actorID, from, to}},
		{&agg.ReviewsGiven,
			`SELECT COUNT(*) FROM reviews WHERE reviewer_id = $1 AND submitted_at >= $2 AND submitted_at < $3`,
			[]any{actorID, from, to}},
		{&agg.ReviewsReceived,
			`SELECT COUNT(*) FROM reviews r JOIN activities a ON a.id = r.activity_id
			 WHERE a.author_id = $1 AND r.reviewer_id <> $1 AND r.submitted_at >= $2 AND r.submitted_at < $3`,
			[]any{actorID, from, to}},
		{&agg.ApprovalsGiven,
			`SELECT COUNT(*) FROM reviews WHERE reviewer_id = $1 AND state = 'approved' AND submitted_at >= $2 AND submitted_at < $3`,
			[]any{actorID, from, to}},
		{&agg.CommentsGiven,
			`SELECT COUNT(*) FROM comments WHERE author_id = $1 AND created_at >= $2 AND created_at < $3`,
			[]any{actorID, from, to}},
		{&agg.CommentsReceived,
			`SELECT COUNT(*) FROM comments c JOIN activities a ON a.id = c.activity_id
			 WHERE a.author_id = $1 AND c.author_id <> $1 AND c.created_at >= $2 AND c.created_at < $3`,
			[]any{actorID, from, to}},
		{&agg.Commits,
			`SELECT COUNT(*) FROM commits WHERE author_id = $1 AND committed_at >= $2 AND committed_at < $3`,
			[]any{actorID, from, to}},
		{&agg.Additions,
			`SELECT COALESCE(SUM(additions), 0) FROM commits WHERE author_id = $1 AND committed_at >= $2 AND committed_at < $3`,
			[]any{actorID, from, to}},
		{&agg.Deletions,
			`SELECT COALESCE(SUM(deletions), 0) FROM commits WHERE author_id = $1 AND committed_at >= $2 AND committed_at < $3`,
			[]any{actorID, from, to}},
		{&agg.DistinctCollaborators,
			`SELECT COUNT(DISTINCT r.reviewer_id) FROM reviews r JOIN activities a ON a.id = r.activity_id
			 WHERE a.author_id = $1 AND r.reviewer_id <> $1 AND r.submitted_at >= $2 AND r.submitted_at < $3`,
			[]any{actorID, from, to}},
		{&agg.DistinctRepositories,
			`SELECT COUNT(DISTINCT repository_id) FROM (
				SELECT repository_id FROM activities WHERE author_id = $1 AND created_at >= $2 AND created_at < $3
				UNION
				SELECT repository_id FROM commits WHERE author_id = $1 AND committed_at >= $2 AND committed_at < $3
			 ) touched`,
			[]any{actorID, from, to}},
	}

	for _, s := range steps {
		if *s.dst, err = r.intQuery(ctx, op, s.query, s.args...); err != nil {
			return nil, err
		}
	}

	agg.AvgTimeToFirstReviewMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM first_review - created_at) / 60), 0) FROM (
			SELECT a.created_at, MIN(r.submitted_at) AS first_review
			FROM activities a JOIN reviews r ON r.activity_id = a.id
			WHERE a.author_id = $1 AND a.created_at >= $2 AND a.created_at < $3
			GROUP BY a.id
		 ) t`, actorID, from, to)
	if err != nil {
		return nil, err
	}

	agg.AvgTimeToMergeMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM merged_at - created_at) / 60), 0)
		 FROM activities WHERE author_id = $1 AND merged AND merged_at >= $2 AND merged_at < $3`,
		actorID, from, to)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *MetricsQueryRepository) RepositoryAggregates(ctx context.Context, repoID int64, from, to time.Time) (*repository.PeriodAggregates, error) {
	const op = "internal.repository.postgres.MetricsQueryRepository.RepositoryAggregates"

	agg := &repository.PeriodAggregates{DistinctRepositories: 1}
	var err error

	steps := []struct {
		dst   *int
		query string
	}{
		{&agg.Opened,
			`SELECT COUNT(*) FROM activities WHERE repository_id = $1 AND created_at >= $2 AND created_at < $3`},
		{&agg.Closed,
			`SELECT COUNT(*) FROM activities WHERE repository_id = $1 AND state = 'closed' AND closed_at >= $2 AND closed_at < $3`},
		{&agg.Merged,
			`SELECT COUNT(*) FROM activities WHERE repository_id = $1 AND merged AND merged_at >= $2 AND merged_at < $3`},
		{&agg.ReviewsGiven,
			`SELECT COUNT(*) FROM reviews r JOIN activities a ON a.id = r.activity_id
			 WHERE a.repository_id = $1 AND r.submitted_at >= $2 AND r.submitted_at < $3`},
		{&agg.ApprovalsGiven,
			`SELECT COUNT(*) FROM reviews r JOIN activities a ON a.id = r.activity_id
			 WHERE a.repository_id = $1 AND r.state = 'approved' AND r.submitted_at >= $2 AND r.submitted_at < $3`},
		{&agg.CommentsGiven,
			`SELECT COUNT(*) FROM comments c JOIN activities a ON a.id = c.activity_id
			 WHERE a.repository_id = $1 AND c.created_at >= $2 AND c.created_at < $3`},
		{&agg.Commits,
			`SELECT COUNT(*) FROM commits WHERE repository_id = $1 AND committed_at >= $2 AND committed_at < $3`},
		{&agg.Additions,
			`SELECT COALESCE(SUM(additions), 0) FROM commits WHERE repository_id = $1 AND committed_at >= $2 AND committed_at < $3`},
		{&agg.Deletions,
			`SELECT COALESCE(SUM(deletions), 0) FROM commits WHERE repository_id = $1 AND committed_at >= $2 AND committed_at < $3`},
		{&agg.DistinctCollaborators,
			`SELECT COUNT(DISTINCT actor_id) FROM (
				SELECT author_id AS actor_id FROM activities WHERE repository_id = $1 AND created_at >= $2 AND created_at < $3
				UNION
				SELECT r.reviewer_id FROM reviews r JOIN activities a ON a.id = r.activity_id
				WHERE a.repository_id = $1 AND r.submitted_at >= $2 AND r.submitted_at < $3
			 ) participants`},
	}

	for _, s := range steps {
		if *s.dst, err = r.intQuery(ctx, op, s.query, repoID, from, to); err != nil {
			return nil, err
		}
	}

	// A repository neither gives nor receives reviews; both sides are the
	// review traffic on its activities.
	agg.ReviewsReceived = agg.ReviewsGiven
	agg.CommentsReceived = agg.CommentsGiven

	agg.AvgTimeToFirstReviewMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM first_review - created_at) / 60), 0) FROM (
			SELECT a.created_at, MIN(r.submitted_at) AS first_review
			FROM activities a JOIN reviews r ON r.activity_id = a.id
			WHERE a.repository_id = $1 AND a.created_at >= $2 AND a.created_at < $3
			GROUP BY a.id
		 ) t`, repoID, from, to)
	if err != nil {
		return nil, err
	}

	agg.AvgTimeToMergeMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM merged_at - created_at) / 60), 0)
		 FROM activities WHERE repository_id = $1 AND merged AND merged_at >= $2 AND merged_at < $3`,
		repoID, from, to)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *MetricsQueryRepository) TeamAggregates(ctx context.Context, from, to time.Time) (*repository.PeriodAggregates, error) {
	const op = "internal.repository.postgres.MetricsQueryRepository.TeamAggregates"

	agg := &repository.PeriodAggregates{}
	var err error

	steps := []struct {
		dst   *int
		query string
	}{
		{&agg.Opened,
			`SELECT COUNT(*) FROM activities WHERE created_at >= $1 AND created_at < $2`},
		{&agg.Closed,
			`SELECT COUNT(*) FROM activities WHERE state = 'closed' AND closed_at >= $1 AND closed_at < $2`},
		{&agg.Merged,
			`SELECT COUNT(*) FROM activities WHERE merged AND merged_at >= $1 AND merged_at < $2`},
		{&agg.ReviewsGiven,
			`SELECT COUNT(*) FROM reviews WHERE submitted_at >= $1 AND submitted_at < $2`},
		{&agg.ApprovalsGiven,
			`SELECT COUNT(*) FROM reviews WHERE state = 'approved' AND submitted_at >= $1 AND submitted_at < $2`},
		{&agg.CommentsGiven,
			`SELECT COUNT(*) FROM comments WHERE created_at >= $1 AND created_at < $2`},
		{&agg.Commits,
			`SELECT COUNT(*) FROM commits WHERE committed_at >= $1 AND committed_at < $2`},
		{&agg.Additions,
			`SELECT COALESCE(SUM(additions), 0) FROM commits WHERE committed_at >= $1 AND committed_at < $2`},
		{&agg.Deletions,
			`SELECT COALESCE(SUM(deletions), 0) FROM commits WHERE committed_at >= $1 AND committed_at < $2`},
		{&agg.DistinctCollaborators,
			`SELECT COUNT(DISTINCT actor_id) FROM (
				SELECT author_id AS actor_id FROM activities WHERE created_at >= $1 AND created_at < $2
				UNION
				SELECT reviewer_id FROM reviews WHERE submitted_at >= $1 AND submitted_at < $2
			 ) participants`},
		{&agg.DistinctRepositories,
			`SELECT COUNT(DISTINCT repository_id) FROM (
				SELECT repository_id FROM activities WHERE created_at >= $1 AND created_at < $2
				UNION
				SELECT repository_id FROM commits WHERE committed_at >= $1 AND committed_at < $2
			 ) touched`},
	}

	for _, s := range steps {
		if *s.dst, err = r.intQuery(ctx, op, s.query, from, to); err != nil {
			return nil, err
		}
	}

	agg.ReviewsReceived = agg.ReviewsGiven
	agg.CommentsReceived = agg.CommentsGiven

	agg.AvgTimeToFirstReviewMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM first_review - created_at) / 60), 0) FROM (
			SELECT a.created_at, MIN(r.submitted_at) AS first_review
			FROM activities a JOIN reviews r ON r.activity_id = a.id
			WHERE a.created_at >= $1 AND a.created_at < $2
			GROUP BY a.id
		 ) t`, from, to)
	if err != nil {
		return nil, err
	}

	agg.AvgTimeToMergeMin, err = r.floatQuery(ctx, op,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM merged_at - created_at) / 60), 0)
		 FROM activities WHERE merged AND merged_at >= $1 AND merged_at < $2`, from, to)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *MetricsQueryRepository) ListActorIDs(ctx context.Context) ([]int64, error) {
	const op = "internal.repository.postgres.MetricsQueryRepository.ListActorIDs"

	query, args, err := r.sq.Select("id").From("actors").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return ids, nil
}

func (r *MetricsQueryRepository) ListRepositoryIDs(ctx context.Context) ([]int64, error) {
	const op = "internal.repository.postgres.MetricsQueryRepository.ListRepositoryIDs"

	query, args, err := r.sq.Select("id").From("repositories").Where(sq.Eq{"is_active": true}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return ids, nil
}
