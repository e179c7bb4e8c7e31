package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/domain"
)

type CommitRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewCommitRepository(db *sqlx.DB, log *slog.Logger) *CommitRepository {
	return &CommitRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *CommitRepository) Upsert(ctx context.Context, commit *domain.Commit) (*domain.Commit, error) {
	const op = "internal.repository.postgres.CommitRepository.Upsert"

	query, args, err := r.sq.Insert("commits").
		Columns("sha", "repository_id", "activity_id", "author_id", "committer_id",
			"message", "additions", "deletions", "committed_at").
		Values(commit.SHA, commit.RepositoryID, commit.ActivityID, commit.AuthorID, commit.CommitterID,
			commit.Message, commit.Additions, commit.Deletions, commit.CommittedAt).
		Suffix(`ON CONFLICT (sha) DO UPDATE SET
			activity_id = COALESCE(EXCLUDED.activity_id, commits.activity_id),
			author_id = COALESCE(EXCLUDED.author_id, commits.author_id),
			committer_id = COALESCE(EXCLUDED.committer_id, commits.committer_id),
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions
		RETURNING id, sha, repository_id, activity_id, author_id, committer_id, message, additions, deletions, committed_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Commit
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

func (r *CommitRepository) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	const op = "internal.repository.postgres.CommitRepository.CountByActivity"

	query, args, err := r.sq.Select("COUNT(*)").
		From("commits").
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
