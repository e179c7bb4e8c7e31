package platform

import (
	"time"

	"github.com/avoronov/gitpulse/internal/domain"
)

// The Remote* types are the canonical in-memory shapes produced by the
// per-transport normalizers. The sync layer consumes only these and never
// branches on which transport a record arrived through.

type RemoteActor struct {
	ExternalID int64
	Username   string
	Name       *string
	Email      *string
	AvatarURL  *string
}

type RemoteRepository struct {
	ExternalID int64
	FullName   string
	Name       string
	Language   *string
	Topics     domain.JSONMap
	IsArchived bool
}

type RemoteActivity struct {
	ExternalID     int64
	Number         int
	Title          string
	State          domain.ActivityState
	Merged         bool
	AuthorUsername string
	Additions      int
	Deletions      int
	Labels         domain.JSONMap
	CreatedAt      time.Time
	ClosedAt       *time.Time
	MergedAt       *time.Time

	// Upstream-reported totals. Kept for observability only; the persisted
	// counters are recomputed from locally stored child rows.
	ReportedReviews  int
	ReportedComments int
}

type RemoteReview struct {
	ExternalID       int64
	ReviewerUsername string
	State            domain.ReviewState
	Body             *string
	SubmittedAt      time.Time
}

type RemoteComment struct {
	ExternalID       int64
	AuthorUsername   string
	Type             domain.CommentType
	Body             string
	Reactions        domain.JSONMap
	ReviewExternalID *int64
	CreatedAt        time.Time
}

type RemoteCommit struct {
	SHA               string
	AuthorUsername    *string
	CommitterUsername *string
	Message           string
	Additions         int
	Deletions         int
	CommittedAt       time.Time
}
