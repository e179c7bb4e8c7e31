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

func TestMetricsQueryRepository_ActorAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	truncateTables(t, testDB)
	ctx := context.Background()

	author := mustActor(t, 601, "author")
	reviewer := mustActor(t, 602, "reviewer")
	repo := mustRepository(t, 701, "org/app", "app")

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	activityRepo := NewActivityRepository(testDB, logger)
	reviewRepo := NewReviewRepository(testDB, logger)
	commitRepo := NewCommitRepository(testDB, logger)

	createdAt := from.Add(24 * time.Hour)
	mergedAt := createdAt.Add(2 * time.Hour)
	merged, err := activityRepo.Upsert(ctx, &domain.Activity{
		ExternalID:   801,
		RepositoryID: repo.ID,
		AuthorID:     author.ID,
		Number:       1,
		Title:        "merged pr",
		State:        domain.ActivityStateMerged,
		Merged:       true,
		CreatedAt:    createdAt,
		MergedAt:     &mergedAt,
	})
	require.NoError(t, err)

	// Second activity stays open and gets no reviews.
	mustActivity(t, 802, repo.ID, author.ID, 2, from.Add(72*time.Hour))

	// First review one hour in, a later approval from the same reviewer.
	_, err = reviewRepo.Upsert(ctx, &domain.Review{
		ExternalID:  901,
		ActivityID:  merged.ID,
		ReviewerID:  reviewer.ID,
		State:       domain.ReviewStateChangesRequested,
		SubmittedAt: createdAt.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = reviewRepo.Upsert(ctx, &domain.Review{
		ExternalID:  902,
		ActivityID:  merged.ID,
		ReviewerID:  reviewer.ID,
		State:       domain.ReviewStateApproved,
		SubmittedAt: createdAt.Add(90 * time.Minute),
	})
	require.NoError(t, err)

	_, err = commitRepo.Upsert(ctx, &domain.Commit{
		SHA:          "a1b2c3",
		RepositoryID: repo.ID,
		ActivityID:   &merged.ID,
		AuthorID:     &author.ID,
		Message:      "implement",
		Additions:    100,
		Deletions:    20,
		CommittedAt:  createdAt.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	queries := NewMetricsQueryRepository(testDB, logger)

	agg, err := queries.ActorAggregates(ctx, author.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Opened)
	assert.Equal(t, 1, agg.Merged)
	assert.Equal(t, 0, agg.ReviewsGiven)
	assert.Equal(t, 2, agg.ReviewsReceived)
	assert.Equal(t, 1, agg.Commits)
	assert.Equal(t, 100, agg.Additions)
	assert.Equal(t, 20, agg.Deletions)
	assert.Equal(t, 1, agg.DistinctCollaborators)
	assert.Equal(t, 1, agg.DistinctRepositories)
	// Only the reviewed activity contributes; first review came 60 min in.
	assert.InDelta(t, 60.0, agg.AvgTimeToFirstReviewMin, 0.01)
	assert.InDelta(t, 120.0, agg.AvgTimeToMergeMin, 0.01)

	reviewerAgg, err := queries.ActorAggregates(ctx, reviewer.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 0, reviewerAgg.Opened)
	assert.Equal(t, 2, reviewerAgg.ReviewsGiven)
	assert.Equal(t, 1, reviewerAgg.ApprovalsGiven)

	// An actor with no rows in the window yields an all-zero aggregate,
	// not an error.
	outside, err := queries.ActorAggregates(ctx, author.ID, to, to.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Zero(t, outside.Opened)
	assert.Zero(t, outside.AvgTimeToMergeMin)
}

func TestMetricsQueryRepository_TeamAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	truncateTables(t, testDB)
	ctx := context.Background()

	a1 := mustActor(t, 611, "dev1")
	a2 := mustActor(t, 612, "dev2")
	r1 := mustRepository(t, 711, "org/one", "one")
	r2 := mustRepository(t, 712, "org/two", "two")

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mustActivity(t, 811, r1.ID, a1.ID, 1, from.Add(time.Hour))
	mustActivity(t, 812, r2.ID, a2.ID, 1, from.Add(2*time.Hour))

	queries := NewMetricsQueryRepository(testDB, logger)

	agg, err := queries.TeamAggregates(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Opened)
	assert.Equal(t, 2, agg.DistinctCollaborators)
	assert.Equal(t, 2, agg.DistinctRepositories)

	actorIDs, err := queries.ListActorIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1.ID, a2.ID}, actorIDs)

	repoIDs, err := queries.ListRepositoryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{r1.ID, r2.ID}, repoIDs)
}
