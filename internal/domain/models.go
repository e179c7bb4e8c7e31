package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ActivityState is the lifecycle state of a pull/merge request.
type ActivityState string

const (
	ActivityStateOpen   ActivityState = "open"
	ActivityStateClosed ActivityState = "closed"
	ActivityStateMerged ActivityState = "merged"
)

// ReviewState mirrors the review verdicts reported by the platform.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
	ReviewStatePending          ReviewState = "pending"
	ReviewStateDismissed        ReviewState = "dismissed"
)

// CommentType distinguishes where a comment was left.
type CommentType string

const (
	CommentTypeIssue      CommentType = "issue"
	CommentTypeReviewLine CommentType = "review_line"
	CommentTypeCommit     CommentType = "commit"
)

// MetricPeriod is a discrete rollup bucket size.
type MetricPeriod string

const (
	PeriodHourly    MetricPeriod = "hourly"
	PeriodDaily     MetricPeriod = "daily"
	PeriodWeekly    MetricPeriod = "weekly"
	PeriodMonthly   MetricPeriod = "monthly"
	PeriodQuarterly MetricPeriod = "quarterly"
	PeriodYearly    MetricPeriod = "yearly"
)

// MetricScope identifies what a metric sample is about.
type MetricScope string

const (
	ScopeActor      MetricScope = "actor"
	ScopeRepository MetricScope = "repository"
	ScopeTeam       MetricScope = "team"
)

// JSONMap holds schema-less platform payloads (labels, reactions, topics).
// Only the fields the pipeline actually reads are validated; the rest is
// stored as-is.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("domain.JSONMap: unsupported scan type %T", src)
	}

	return json.Unmarshal(data, m)
}

// Actor is a person identity sourced from the platform. Actors are created
// lazily the first time they are referenced as author, reviewer or committer,
// even if they never appear in the bulk membership listing.
type Actor struct {
	ID         int64      `db:"id"`
	ExternalID int64      `db:"external_id"`
	Username   string     `db:"username"`
	Name       *string    `db:"name"`
	Email      *string    `db:"email"`
	AvatarURL  *string    `db:"avatar_url"`
	IsActive   bool       `db:"is_active"`
	LastSyncAt *time.Time `db:"last_sync_at"`
}

type Repository struct {
	ID         int64      `db:"id"`
	ExternalID int64      `db:"external_id"`
	FullName   string     `db:"full_name"`
	Name       string     `db:"name"`
	Language   *string    `db:"language"`
	Topics     JSONMap    `db:"topics"`
	IsActive   bool       `db:"is_active"`
	LastSyncAt *time.Time `db:"last_sync_at"`
}

// Activity is a pull/merge request. Invariant: Merged implies MergedAt is set
// and State == merged. The derived counters reflect locally persisted child
// rows, not upstream-reported totals.
type Activity struct {
	ID            int64         `db:"id"`
	ExternalID    int64         `db:"external_id"`
	RepositoryID  int64         `db:"repository_id"`
	AuthorID      int64         `db:"author_id"`
	Number        int           `db:"number"`
	Title         string        `db:"title"`
	State         ActivityState `db:"state"`
	Merged        bool          `db:"merged"`
	Additions     int           `db:"additions"`
	Deletions     int           `db:"deletions"`
	Labels        JSONMap       `db:"labels"`
	ReviewsCount  int           `db:"reviews_count"`
	CommentsCount int           `db:"comments_count"`
	CommitsCount  int           `db:"commits_count"`
	CreatedAt     time.Time     `db:"created_at"`
	ClosedAt      *time.Time    `db:"closed_at"`
	MergedAt      *time.Time    `db:"merged_at"`
	LastSyncAt    *time.Time    `db:"last_sync_at"`
}

type Review struct {
	ID          int64       `db:"id"`
	ExternalID  int64       `db:"external_id"`
	ActivityID  int64       `db:"activity_id"`
	ReviewerID  int64       `db:"reviewer_id"`
	State       ReviewState `db:"state"`
	Body        *string     `db:"body"`
	SubmittedAt time.Time   `db:"submitted_at"`
}

type Comment struct {
	ID         int64       `db:"id"`
	ExternalID int64       `db:"external_id"`
	ActivityID int64       `db:"activity_id"`
	ReviewID   *int64      `db:"review_id"`
	AuthorID   int64       `db:"author_id"`
	Type       CommentType `db:"type"`
	Body       string      `db:"body"`
	Reactions  JSONMap     `db:"reactions"`
	CreatedAt  time.Time   `db:"created_at"`
}

// Commit belongs to one Repository. ActivityID is set when the commit was
// discovered through a pull request's commit listing, which makes the
// per-activity commit counter derivable from persisted rows.
type Commit struct {
	ID           int64     `db:"id"`
	SHA          string    `db:"sha"`
	RepositoryID int64     `db:"repository_id"`
	ActivityID   *int64    `db:"activity_id"`
	AuthorID     *int64    `db:"author_id"`
	CommitterID  *int64    `db:"committer_id"`
	Message      string    `db:"message"`
	Additions    int       `db:"additions"`
	Deletions    int       `db:"deletions"`
	CommittedAt  time.Time `db:"committed_at"`
}

// MetricSample is one computed rollup row. Natural key:
// (actor_id, repository_id, metric_type, metric_name, period, period_start).
// Rows are created once and left untouched on re-invocation unless a forced
// recalculation is requested.
type MetricSample struct {
	ID           int64        `db:"id"`
	ActorID      *int64       `db:"actor_id"`
	RepositoryID *int64       `db:"repository_id"`
	MetricType   MetricScope  `db:"metric_type"`
	MetricName   string       `db:"metric_name"`
	Period       MetricPeriod `db:"period"`
	PeriodStart  time.Time    `db:"period_start"`
	PeriodEnd    time.Time    `db:"period_end"`
	Values       JSONMap      `db:"measures"`
	DataPoints   int          `db:"data_points"`
	Confidence   float64      `db:"confidence"`
	CalculatedAt time.Time    `db:"calculated_at"`
}
