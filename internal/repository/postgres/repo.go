package postgres

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/avoronov/gitpulse/internal/domain"
)

type RepositoryRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewRepositoryRepository(db *sqlx.DB, log *slog.Logger) *RepositoryRepository {
	return &RepositoryRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *RepositoryRepository) Upsert(ctx context.Context, repo *domain.Repository) (*domain.Repository, error) {
	const op = "internal.repository.postgres.RepositoryRepository.Upsert"

	query, args, err := r.sq.Insert("repositories").
		Columns("external_id", "full_name", "name", "language", "topics", "is_active", "last_sync_at").
		Values(repo.ExternalID, repo.FullName, repo.Name, repo.Language, repo.Topics, repo.IsActive, repo.LastSyncAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			name = EXCLUDED.name,
			language = COALESCE(EXCLUDED.language, repositories.language),
			topics = COALESCE(EXCLUDED.topics, repositories.topics),
			is_active = EXCLUDED.is_active,
			last_sync_at = EXCLUDED.last_sync_at
		RETURNING id, external_id, full_name, name, language, topics, is_active, last_sync_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Repository
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

func (r *RepositoryRepository) ListActive(ctx context.Context) ([]domain.Repository, error) {
	const op = "internal.repository.postgres.RepositoryRepository.ListActive"

	query, args, err := r.sq.Select("id", "external_id", "full_name", "name", "language", "topics", "is_active", "last_sync_at").
		From("repositories").
		Where(sq.Eq{"is_active": true}).
		OrderBy("full_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var repos []domain.Repository
	if err := r.db.SelectContext(ctx, &repos, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return repos, nil
}
