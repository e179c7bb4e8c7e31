package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/domain"
)

type ActorRepository struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  sq.StatementBuilderType
}

func NewActorRepository(db *sqlx.DB, log *slog.Logger) *ActorRepository {
	return &ActorRepository{
		db:  db,
		log: log,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *ActorRepository) Upsert(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	const op = "internal.repository.postgres.ActorRepository.Upsert"

	query, args, err := r.sq.Insert("actors").
		Columns("external_id", "username", "name", "email", "avatar_url", "is_active", "last_sync_at").
		Values(actor.ExternalID, actor.Username, actor.Name, actor.Email, actor.AvatarURL, actor.IsActive, actor.LastSyncAt).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			name = COALESCE(EXCLUDED.name, actors.name),
			email = COALESCE(EXCLUDED.email, actors.email),
			avatar_url = COALESCE(EXCLUDED.avatar_url, actors.avatar_url),
			is_active = EXCLUDED.is_active,
			last_sync_at = EXCLUDED.last_sync_at
		RETURNING id, external_id, username, name, email, avatar_url, is_active, last_sync_at`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var stored domain.Actor
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		// The conflict target only covers external_id; a different account
		// claiming a username whose previous holder has not been refreshed
		// yet still violates the unique username index. The next pass
		// converges once the renamed account is re-synced.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%s: %w: username '%s'", op, apperrors.ErrAlreadyExists, actor.Username)
		}

		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &stored, nil
}

func (r *ActorRepository) GetByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	const op = "internal.repository.postgres.ActorRepository.GetByUsername"

	query, args, err := r.sq.Select("id", "external_id", "username", "name", "email", "avatar_url", "is_active", "last_sync_at").
		From("actors").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var actor domain.Actor
	if err := r.db.GetContext(ctx, &actor, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w: actor '%s'", op, apperrors.ErrNotFound, username)
		}

		return nil, fmt.Errorf("%s: failed to execute query: %w", op, err)
	}

	return &actor, nil
}
