// Package repository defines the contracts for the persistence layer.
// All entity stores are idempotent create-or-update keyed by stable natural
// keys; sync passes never delete rows.
package repository

import (
	"context"
	"time"

	"github.com/avoronov/gitpulse/internal/domain"
)

// ActorStore persists platform identities keyed by external_id.
type ActorStore interface {
	// Upsert creates or updates an actor and returns the stored row.
	Upsert(ctx context.Context, actor *domain.Actor) (*domain.Actor, error)

	// GetByUsername returns apperrors.ErrNotFound when the actor is unknown
	// locally, which triggers the lazy on-demand profile fetch.
	GetByUsername(ctx context.Context, username string) (*domain.Actor, error)
}

// RepositoryStore persists repositories keyed by external_id.
type RepositoryStore interface {
	Upsert(ctx context.Context, repo *domain.Repository) (*domain.Repository, error)

	// ListActive returns the repositories a sync pass walks.
	ListActive(ctx context.Context) ([]domain.Repository, error)
}

// ActivityStore persists pull/merge requests keyed by external_id, unique
// per (repository_id, number).
type ActivityStore interface {
	Upsert(ctx context.Context, activity *domain.Activity) (*domain.Activity, error)

	// UpdateCounters persists the derived child-row counters recomputed
	// after a nested sync.
	UpdateCounters(ctx context.Context, activityID int64, reviews, comments, commits int) error
}

type ReviewStore interface {
	Upsert(ctx context.Context, review *domain.Review) (*domain.Review, error)

	// CountByActivity counts locally persisted reviews, the source of truth
	// for Activity.ReviewsCount.
	CountByActivity(ctx context.Context, activityID int64) (int, error)
}

type CommentStore interface {
	Upsert(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	CountByActivity(ctx context.Context, activityID int64) (int, error)
}

type CommitStore interface {
	Upsert(ctx context.Context, commit *domain.Commit) (*domain.Commit, error)
	CountByActivity(ctx context.Context, activityID int64) (int, error)
}

// MetricKey is the natural key of a metric sample.
type MetricKey struct {
	ActorID      *int64
	RepositoryID *int64
	MetricType   domain.MetricScope
	MetricName   string
	Period       domain.MetricPeriod
	PeriodStart  time.Time
}

// MetricSampleStore persists rollup rows. Samples are created once per
// natural key; Upsert overwrites and is used only for forced recalculation.
type MetricSampleStore interface {
	ExistsForKey(ctx context.Context, key MetricKey) (bool, error)
	Insert(ctx context.Context, sample *domain.MetricSample) error
	Upsert(ctx context.Context, sample *domain.MetricSample) error
}

// PeriodAggregates are the raw rollup inputs computed from persisted
// entities for one scope instance over one period.
type PeriodAggregates struct {
	Opened int
	Closed int
	Merged int

	ReviewsGiven    int
	ReviewsReceived int
	ApprovalsGiven  int

	CommentsGiven    int
	CommentsReceived int

	Commits   int
	Additions int
	Deletions int

	AvgTimeToFirstReviewMin float64
	AvgTimeToMergeMin       float64

	DistinctCollaborators int
	DistinctRepositories  int
}

// MetricsQueryStore exposes the read side the MetricsEngine aggregates over.
type MetricsQueryStore interface {
	ActorAggregates(ctx context.Context, actorID int64, from, to time.Time) (*PeriodAggregates, error)
	RepositoryAggregates(ctx context.Context, repoID int64, from, to time.Time) (*PeriodAggregates, error)
	TeamAggregates(ctx context.Context, from, to time.Time) (*PeriodAggregates, error)

	ListActorIDs(ctx context.Context) ([]int64, error)
	ListRepositoryIDs(ctx context.Context) ([]int64, error)
}
