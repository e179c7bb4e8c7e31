//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avoronov/gitpulse/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func mustActor(t *testing.T, externalID int64, username string) *domain.Actor {
	t.Helper()

	actor, err := NewActorRepository(testDB, logger).Upsert(context.Background(), &domain.Actor{
		ExternalID: externalID,
		Username:   username,
		IsActive:   true,
	})
	require.NoError(t, err)

	return actor
}

func mustRepository(t *testing.T, externalID int64, fullName, name string) *domain.Repository {
	t.Helper()

	repo, err := NewRepositoryRepository(testDB, logger).Upsert(context.Background(), &domain.Repository{
		ExternalID: externalID,
		FullName:   fullName,
		Name:       name,
		IsActive:   true,
	})
	require.NoError(t, err)

	return repo
}

func mustActivity(t *testing.T, externalID, repoID, authorID int64, number int, createdAt time.Time) *domain.Activity {
	t.Helper()

	activity, err := NewActivityRepository(testDB, logger).Upsert(context.Background(), &domain.Activity{
		ExternalID:   externalID,
		RepositoryID: repoID,
		AuthorID:     authorID,
		Number:       number,
		Title:        "test activity",
		State:        domain.ActivityStateOpen,
		CreatedAt:    createdAt,
	})
	require.NoError(t, err)

	return activity
}
