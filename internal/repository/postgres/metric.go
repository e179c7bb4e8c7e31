package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/repository"
)

type MetricSampleRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewMetricSampleRepository(db *sqlx.DB, log *slog.Logger) *MetricSampleRepository {
	return &MetricSampleRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// The natural key contains two nullable scope columns, so uniqueness is
// enforced by an expression index over COALESCE'd values; the conflict
// target below must match that index exactly.
const metricConflictTarget = `(COALESCE(actor_id, 0), COALESCE(repository_id, 0), metric_type, metric_name, period, period_start)`

func (r *MetricSampleRepository) keyCondition(key repository.MetricKey) sq.Sqlizer {
	cond := sq.Eq{
		"metric_type":  key.MetricType,
		"metric_name":  key.MetricName,
		"period":       key.Period,
		"period_start": key.PeriodStart,
	}

	// A typed nil pointer would be bound as a NULL parameter and `= NULL`
	// never matches, so nil scopes are normalized to untyped nil.
	if key.ActorID != nil {
		cond["actor_id"] = *key.ActorID
	} else {
		cond["actor_id"] = nil
	}
	if key.RepositoryID != nil {
		cond["repository_id"] = *key.RepositoryID
	} else {
		cond["repository_id"] = nil
	}

	return cond
}

func (r *MetricSampleRepository) ExistsForKey(ctx context.Context, key repository.MetricKey) (bool, error) {
	const op = "internal.repository.postgres.MetricSampleRepository.ExistsForKey"

	query, args, err := r.sq.Select("COUNT(*)").
		From("metric_samples").
		Where(r.keyCondition(key)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return count > 0, nil
}

func (r *MetricSampleRepository) Insert(ctx context.Context, sample *domain.MetricSample) error {
	const op = "internal.repository.postgres.MetricSampleRepository.Insert"

	query, args, err := r.insertBuilder(sample).
		Suffix("ON CONFLICT " + metricConflictTarget + " DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return nil
}

// Upsert overwrites an existing sample; used only when a forced
// recalculation was requested.
func (r *MetricSampleRepository) Upsert(ctx context.Context, sample *domain.MetricSample) error {
	const op = "internal.repository.postgres.MetricSampleRepository.Upsert"

	query, args, err := r.insertBuilder(sample).
		Suffix(`ON CONFLICT ` + metricConflictTarget + ` DO UPDATE SET
			period_end = EXCLUDED.period_end,
			measures = EXCLUDED.measures,
			data_points = EXCLUDED.data_points,
			confidence = EXCLUDED.confidence,
			calculated_at = EXCLUDED.calculated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return nil
}

func (r *MetricSampleRepository) insertBuilder(sample *domain.MetricSample) sq.InsertBuilder {
	return r.sq.Insert("metric_samples").
		Columns("actor_id", "repository_id", "metric_type", "metric_name", "period",
			"period_start", "period_end", "measures", "data_points", "confidence", "calculated_at").
		Values(sample.ActorID, sample.RepositoryID, sample.MetricType, sample.MetricName, sample.Period,
			sample.PeriodStart, sample.PeriodEnd, sample.Values, sample.DataPoints, sample.Confidence, sample.CalculatedAt)
}
