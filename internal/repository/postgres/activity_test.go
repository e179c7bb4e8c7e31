//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/gitpulse/internal/domain"
)

func TestActivityRepository_UpsertTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	truncateTables(t, testDB)
	activityRepo := NewActivityRepository(testDB, logger)
	ctx := context.Background()

	author := mustActor(t, 201, "author")
	repo := mustRepository(t, 301, "org/service", "service")

	createdAt := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	opened, err := activityRepo.Upsert(ctx, &domain.Activity{
		ExternalID:   401,
		RepositoryID: repo.ID,
		AuthorID:     author.ID,
		Number:       7,
		Title:        "add caching",
		State:        domain.ActivityStateOpen,
		CreatedAt:    createdAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityStateOpen, opened.State)
	assert.False(t, opened.Merged)

	mergedAt := createdAt.Add(24 * time.Hour)
	merged, err := activityRepo.Upsert(ctx, &domain.Activity{
		ExternalID:   401,
		RepositoryID: repo.ID,
		AuthorID:     author.ID,
		Number:       7,
		Title:        "add caching",
		State:        domain.ActivityStateMerged,
		Merged:       true,
		Additions:    120,
		Deletions:    30,
		CreatedAt:    createdAt,
		MergedAt:     &mergedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, opened.ID, merged.ID)
	assert.Equal(t, domain.ActivityStateMerged, merged.State)
	assert.True(t, merged.Merged)
	require.NotNil(t, merged.MergedAt)

	var count int
	require.NoError(t, testDB.Get(&count, "SELECT COUNT(*) FROM activities"))
	assert.Equal(t, 1, count)
}

func TestActivityRepository_UpdateCounters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	truncateTables(t, testDB)
	activityRepo := NewActivityRepository(testDB, logger)
	ctx := context.Background()

	author := mustActor(t, 202, "author2")
	repo := mustRepository(t, 302, "org/lib", "lib")
	activity := mustActivity(t, 402, repo.ID, author.ID, 1, time.Now().UTC())

	require.NoError(t, activityRepo.UpdateCounters(ctx, activity.ID, 3, 5, 9))

	var got domain.Activity
	require.NoError(t, testDB.Get(&got, "SELECT reviews_count, comments_count, commits_count FROM activities WHERE id = $1", activity.ID))
	assert.Equal(t, 3, got.ReviewsCount)
	assert.Equal(t, 5, got.CommentsCount)
	assert.Equal(t, 9, got.CommitsCount)
}
