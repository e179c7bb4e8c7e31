package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/domain"
)

type ActivityRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewActivityRepository(db *sqlx.DB, log *slog.Logger) *ActivityRepository {
	return &ActivityRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const activityColumns = `id, external_id, repository_id, author_id, number, title, state, merged,
	additions, deletions, labels, reviews_count, comments_count, commits_count,
	created_at, closed_at, merged_at, last_sync_at`

func (r *ActivityRepository) Upsert(ctx context.Context, activity *domain.Activity) (*domain.Activity, error) {
	const op = "internal.repository.postgres.ActivityRepository.Upsert"

	query, args, err := r.sq.Insert("activities").
		Columns("external_id", "repository_id", "author_id", "number", "title", "state", "merged",
			"additions", "deletions", "labels", "created_at", "closed_at", "merged_at", "last_sync_at").
		Values(activity.ExternalID, activity.RepositoryID, activity.AuthorID, activity.Number,
			activity.Title, activity.State, activity.Merged, activity.Additions, activity.Deletions,
			activity.Labels, activity.CreatedAt, activity.ClosedAt, activity.MergedAt, activity.LastSyncAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			merged = EXCLUDED.merged,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			labels = COALESCE(EXCLUDED.labels, activities.labels),
			closed_at = EXCLUDED.closed_at,
			merged_at = EXCLUDED.merged_at,
			last_sync_at = EXCLUDED.last_sync_at
		RETURNING ` + activityColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Activity
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		// The conflict target only covers external_id; a row with a
		// different external_id but the same (repository_id, number) still
		// violates the secondary unique constraint.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%s: %w: activity #%d in repository %d",
				op, apperrors.ErrAlreadyExists, activity.Number, activity.RepositoryID)
		}

		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

// UpdateCounters stores the derived child-row counters. These deliberately
// override any upstream-reported totals so the row stays consistent with
// what was actually persisted.
func (r *ActivityRepository) UpdateCounters(ctx context.Context, activityID int64, reviews, comments, commits int) error {
	const op = "internal.repository.postgres.ActivityRepository.UpdateCounters"

	query, args, err := r.sq.Update("activities").
		Set("reviews_count", reviews).
		Set("comments_count", comments).
		Set("commits_count", commits).
		Where(sq.Eq{"id": activityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return nil
}
