package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/domain"
)

type CommentRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewCommentRepository(db *sqlx.DB, log *slog.Logger) *CommentRepository {
	return &CommentRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *CommentRepository) Upsert(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	const op = "internal.repository.postgres.CommentRepository.Upsert"

	query, args, err := r.sq.Insert("comments").
		Columns("external_id", "activity_id", "review_id", "author_id", "type", "body", "reactions", "created_at").
		Values(comment.ExternalID, comment.ActivityID, comment.ReviewID, comment.AuthorID,
			comment.Type, comment.Body, comment.Reactions, comment.CreatedAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			body = EXCLUDED.body,
			reactions = COALESCE(EXCLUDED.reactions, comments.reactions),
			review_id = COALESCE(EXCLUDED.review_id, comments.review_id)
		RETURNING id, external_id, activity_id, review_id, author_id, type, body, reactions, created_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Comment
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

func (r *CommentRepository) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	const op = "internal.repository.postgres.CommentRepository.CountByActivity"

	query, args, err := r.sq.Select("COUNT(*)").
		From("comments").
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
