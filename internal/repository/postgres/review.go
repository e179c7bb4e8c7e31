package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/domain"
)

type ReviewRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewReviewRepository(db *sqlx.DB, log *slog.Logger) *ReviewRepository {
	return &ReviewRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *ReviewRepository) Upsert(ctx context.Context, review *domain.Review) (*domain.Review, error) {
	const op = "internal.repository.postgres.ReviewRepository.Upsert"

	query, args, err := r.sq.Insert("reviews").
		Columns("external_id", "activity_id", "reviewer_id", "state", "body", "submitted_at").
		Values(review.ExternalID, review.ActivityID, review.ReviewerID, review.State, review.Body, review.SubmittedAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			state = EXCLUDED.state,
			body = EXCLUDED.body,
			submitted_at = EXCLUDED.submitted_at
		RETURNING id, external_id, activity_id, reviewer_id, state, body, submitted_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Review
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

func (r *ReviewRepository) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	const op = "internal.repository.postgres.ReviewRepository.CountByActivity"

	query, args, err := r.sq.Select("COUNT(*)").
		From("reviews").
		Where(sq.Eq{"activity_id": activityID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return count, nil
}
