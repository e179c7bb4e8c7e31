package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/config"
	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/platform"
	"github.com/avoronov/gitpulse/internal/repository"
	"github.com/avoronov/gitpulse/pkg/logger/sl"
)

// PlatformClient is the upstream surface the orchestrator ingests from.
// The canonical Remote* shapes are transport-agnostic; the orchestrator
// never knows whether a record arrived via REST or a graph query.
type PlatformClient interface {
	ListMembers(ctx context.Context) ([]platform.RemoteActor, error)
	GetUser(ctx context.Context, username string) (*platform.RemoteActor, error)
	ListRepositories(ctx context.Context) ([]platform.RemoteRepository, error)
	ListActivities(ctx context.Context, owner, name string, since time.Time) ([]platform.RemoteActivity, error)
	ListReviews(ctx context.Context, repoFullName string, number int) ([]platform.RemoteReview, error)
	ListIssueComments(ctx context.Context, repoFullName string, number int) ([]platform.RemoteComment, error)
	ListReviewComments(ctx context.Context, repoFullName string, number int) ([]platform.RemoteComment, error)
	ListActivityCommits(ctx context.Context, repoFullName string, number int) ([]platform.RemoteCommit, error)
	ListCommits(ctx context.Context, repoFullName string, since time.Time) ([]platform.RemoteCommit, error)
	RateLimitState() platform.RateLimitState
}

// SyncOptions selects what a sync pass covers. The zero value is a default
// incremental-window sync of everything.
type SyncOptions struct {
	// FullSync ignores the time window and walks all history.
	FullSync bool

	// Since overrides the default lookback window when set.
	Since *time.Time

	// SkipMembers and SkipRepositories skip the expensive bulk refresh
	// phases; incremental runs set both.
	SkipMembers      bool
	SkipRepositories bool
}

// SyncResult is the aggregate outcome of one sync run. Per-entity failures
// are collected in Errors and do not abort sibling entities.
type SyncResult struct {
	Success  bool      `json:"success"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	MembersSynced      int `json:"membersSynced"`
	RepositoriesSynced int `json:"repositoriesSynced"`
	ActivitiesSynced   int `json:"activitiesSynced"`
	ReviewsSynced      int `json:"reviewsSynced"`
	CommentsSynced     int `json:"commentsSynced"`
	CommitsSynced      int `json:"commitsSynced"`

	Errors []string `json:"errors,omitempty"`
}

// SyncStatus is the admin-surface snapshot.
type SyncStatus struct {
	Running       bool        `json:"running"`
	StopRequested bool        `json:"stopRequested"`
	LastResult    *SyncResult `json:"lastResult,omitempty"`
}

type SyncOrchestrator struct {
	log    *slog.Logger
	cfg    config.Sync
	client PlatformClient

	actors     repository.ActorStore
	repos      repository.RepositoryStore
	activities repository.ActivityStore
	reviews    repository.ReviewStore
	comments   repository.CommentStore
	commits    repository.CommitStore

	mu            sync.Mutex
	running       bool
	stopRequested bool
	lastResult    *SyncResult
}

func NewSyncOrchestrator(
	log *slog.Logger,
	cfg config.Sync,
	client PlatformClient,
	actors repository.ActorStore,
	repos repository.RepositoryStore,
	activities repository.ActivityStore,
	reviews repository.ReviewStore,
	comments repository.CommentStore,
	commits repository.CommitStore,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		log:        log,
		cfg:        cfg,
		client:     client,
		actors:     actors,
		repos:      repos,
		activities: activities,
		reviews:    reviews,
		comments:   comments,
		commits:    commits,
	}
}

// syncRun carries the per-invocation state: the result being built and the
// in-run actor memo so a username is resolved against the store (or the
// API) at most once per pass.
type syncRun struct {
	result      *SyncResult
	actorByName map[string]*domain.Actor
	since       time.Time
	now         time.Time
}

func (r *syncRun) fail(format string, args ...any) {
	r.result.Errors = append(r.result.Errors, fmt.Sprintf(format, args...))
}

// Run executes one sync pass. A call while another run is active is
// rejected synchronously with apperrors.ErrSyncInProgress and performs no
// network calls. There is no queuing; the caller retries later.
func (s *SyncOrchestrator) Run(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	const op = "internal.service.SyncOrchestrator.Run"

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, apperrors.ErrSyncInProgress
	}
	s.running = true
	s.stopRequested = false
	s.mu.Unlock()

	now := time.Now().UTC()
	run := &syncRun{
		result:      &SyncResult{Started: now},
		actorByName: make(map[string]*domain.Actor),
		since:       s.resolveSince(opts, now),
		now:         now,
	}

	log := s.log.With(slog.String("op", op),
		slog.Bool("full_sync", opts.FullSync),
		slog.Time("since", run.since))
	log.Info("sync started")

	err := s.execute(ctx, log, opts, run)

	run.result.Finished = time.Now().UTC()
	run.result.Success = err == nil && len(run.result.Errors) == 0

	s.mu.Lock()
	s.running = false
	s.lastResult = run.result
	s.mu.Unlock()

	if err != nil {
		log.Error("sync aborted", sl.Err(err))
		return run.result, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("sync finished",
		slog.Bool("success", run.result.Success),
		slog.Int("activities", run.result.ActivitiesSynced),
		slog.Int("errors", len(run.result.Errors)))

	return run.result, nil
}

// Status returns a snapshot for the admin surface.
func (s *SyncOrchestrator) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SyncStatus{
		Running:       s.running,
		StopRequested: s.stopRequested,
		LastResult:    s.lastResult,
	}
}

// Stop records a stop request. An in-flight run is NOT interrupted; the
// flag only documents the operator's intent and suppresses nothing. True
// cancellation would need a token threaded through every awaited step.
func (s *SyncOrchestrator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.log.Info("sync stop requested, no run in progress")
		return
	}

	s.stopRequested = true
	s.log.Info("sync stop requested, in-flight run will complete")
}

func (s *SyncOrchestrator) resolveSince(opts SyncOptions, now time.Time) time.Time {
	switch {
	case opts.FullSync:
		return time.Time{}
	case opts.Since != nil:
		return *opts.Since
	default:
		return s.cfg.DefaultWindow(now)
	}
}

func (s *SyncOrchestrator) execute(ctx context.Context, log *slog.Logger, opts SyncOptions, run *syncRun) error {
	if !opts.SkipMembers {
		s.syncMembers(ctx, log, run)
		s.courtesyWait(ctx)
	}

	if !opts.SkipRepositories {
		s.syncRepositories(ctx, log, run)
		s.courtesyWait(ctx)
	}

	repos, err := s.repos.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active repositories: %w", err)
	}

	for _, repo := range repos {
		s.syncRepositoryActivities(ctx, log, run, repo)
		s.courtesyWait(ctx)
		s.syncRepositoryCommits(ctx, log, run, repo)
		s.courtesyWait(ctx)
	}

	return nil
}

func (s *SyncOrchestrator) syncMembers(ctx context.Context, log *slog.Logger, run *syncRun) {
	members, err := s.client.ListMembers(ctx)
	if err != nil {
		log.Error("member listing stopped", sl.Err(err))
		run.fail("members: %v", err)
	}

	for _, m := range members {
		actor, err := s.actors.Upsert(ctx, &domain.Actor{
			ExternalID: m.ExternalID,
			Username:   m.Username,
			Name:       m.Name,
			Email:      m.Email,
			AvatarURL:  m.AvatarURL,
			IsActive:   true,
			LastSyncAt: &run.now,
		})
		if err != nil {
			log.Error("failed to upsert member", slog.String("username", m.Username), sl.Err(err))
			run.fail("member %s: %v", m.Username, err)
			continue
		}

		run.actorByName[actor.Username] = actor
		run.result.MembersSynced++
	}
}

func (s *SyncOrchestrator) syncRepositories(ctx context.Context, log *slog.Logger, run *syncRun) {
	repos, err := s.client.ListRepositories(ctx)
	if err != nil {
		log.Error("repository listing stopped", sl.Err(err))
		run.fail("repositories: %v", err)
	}

	for _, r := range repos {
		_, err := s.repos.Upsert(ctx, &domain.Repository{
			ExternalID: r.ExternalID,
			FullName:   r.FullName,
			Name:       r.Name,
			Language:   r.Language,
			Topics:     r.Topics,
			IsActive:   !r.IsArchived,
			LastSyncAt: &run.now,
		})
		if err != nil {
			log.Error("failed to upsert repository", slog.String("repository", r.FullName), sl.Err(err))
			run.fail("repository %s: %v", r.FullName, err)
			continue
		}

		run.result.RepositoriesSynced++
	}
}

func (s *SyncOrchestrator) syncRepositoryActivities(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository) {
	owner, name, ok := splitFullName(repo.FullName)
	if !ok {
		run.fail("repository %s: malformed full name", repo.FullName)
		return
	}

	remote, err := s.client.ListActivities(ctx, owner, name, run.since)
	if err != nil {
		log.Error("activity listing stopped",
			slog.String("repository", repo.FullName), sl.Err(err))
		run.fail("repository %s: activities: %v", repo.FullName, err)
	}

	// A partial listing is still processed; the pagination failure above is
	// already recorded.
	for _, ra := range remote {
		if err := s.syncActivity(ctx, log, run, repo, ra); err != nil {
			log.Error("failed to sync activity",
				slog.String("repository", repo.FullName),
				slog.Int("number", ra.Number), sl.Err(err))
			run.fail("activity %s#%d: %v", repo.FullName, ra.Number, err)
		}

		s.courtesyWait(ctx)
	}
}

func (s *SyncOrchestrator) syncActivity(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository, ra platform.RemoteActivity) error {
	author, err := s.resolveActor(ctx, run, ra.AuthorUsername)
	if err != nil {
		return fmt.Errorf("failed to resolve author '%s': %w", ra.AuthorUsername, err)
	}

	activity, err := s.activities.Upsert(ctx, &domain.Activity{
		ExternalID:   ra.ExternalID,
		RepositoryID: repo.ID,
		AuthorID:     author.ID,
		Number:       ra.Number,
		Title:        ra.Title,
		State:        ra.State,
		Merged:       ra.Merged,
		Additions:    ra.Additions,
		Deletions:    ra.Deletions,
		Labels:       ra.Labels,
		CreatedAt:    ra.CreatedAt,
		ClosedAt:     ra.ClosedAt,
		MergedAt:     ra.MergedAt,
		LastSyncAt:   &run.now,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert activity: %w", err)
	}

	run.result.ActivitiesSynced++

	reviewIDs := s.syncReviews(ctx, log, run, repo, activity)
	s.syncComments(ctx, log, run, repo, activity, reviewIDs)
	s.syncActivityCommits(ctx, log, run, repo, activity)

	// The persisted counters are recomputed from stored child rows, never
	// taken from the upstream-reported totals, so the row stays consistent
	// even when a nested listing stopped partway.
	return s.reconcileCounters(ctx, activity.ID)
}

// syncReviews returns a map from upstream review id to local row id so
// review-line comments can be attached to their review.
func (s *SyncOrchestrator) syncReviews(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository, activity *domain.Activity) map[int64]int64 {
	reviewIDs := make(map[int64]int64)

	remote, err := s.client.ListReviews(ctx, repo.FullName, activity.Number)
	if err != nil {
		log.Error("review listing stopped",
			slog.String("repository", repo.FullName),
			slog.Int("number", activity.Number), sl.Err(err))
		run.fail("activity %s#%d: reviews: %v", repo.FullName, activity.Number, err)
	}

	for _, rr := range remote {
		reviewer, err := s.resolveActor(ctx, run, rr.ReviewerUsername)
		if err != nil {
			run.fail("review %d: failed to resolve reviewer '%s': %v", rr.ExternalID, rr.ReviewerUsername, err)
			continue
		}

		stored, err := s.reviews.Upsert(ctx, &domain.Review{
			ExternalID:  rr.ExternalID,
			ActivityID:  activity.ID,
			ReviewerID:  reviewer.ID,
			State:       rr.State,
			Body:        rr.Body,
			SubmittedAt: rr.SubmittedAt,
		})
		if err != nil {
			run.fail("review %d: %v", rr.ExternalID, err)
			continue
		}

		reviewIDs[stored.ExternalID] = stored.ID
		run.result.ReviewsSynced++
	}

	return reviewIDs
}

func (s *SyncOrchestrator) syncComments(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository, activity *domain.Activity, reviewIDs map[int64]int64) {
	issue, err := s.client.ListIssueComments(ctx, repo.FullName, activity.Number)
	if err != nil {
		log.Error("issue comment listing stopped",
			slog.String("repository", repo.FullName),
			slog.Int("number", activity.Number), sl.Err(err))
		run.fail("activity %s#%d: issue comments: %v", repo.FullName, activity.Number, err)
	}

	reviewLine, err := s.client.ListReviewComments(ctx, repo.FullName, activity.Number)
	if err != nil {
		log.Error("review comment listing stopped",
			slog.String("repository", repo.FullName),
			slog.Int("number", activity.Number), sl.Err(err))
		run.fail("activity %s#%d: review comments: %v", repo.FullName, activity.Number, err)
	}

	for _, rc := range append(issue, reviewLine...) {
		author, err := s.resolveActor(ctx, run, rc.AuthorUsername)
		if err != nil {
			run.fail("comment %d: failed to resolve author '%s': %v", rc.ExternalID, rc.AuthorUsername, err)
			continue
		}

		var reviewID *int64
		if rc.ReviewExternalID != nil {
			if local, ok := reviewIDs[*rc.ReviewExternalID]; ok {
				reviewID = &local
			}
		}

		_, err = s.comments.Upsert(ctx, &domain.Comment{
			ExternalID: rc.ExternalID,
			ActivityID: activity.ID,
			ReviewID:   reviewID,
			AuthorID:   author.ID,
			Type:       rc.Type,
			Body:       rc.Body,
			Reactions:  rc.Reactions,
			CreatedAt:  rc.CreatedAt,
		})
		if err != nil {
			run.fail("comment %d: %v", rc.ExternalID, err)
			continue
		}

		run.result.CommentsSynced++
	}
}

func (s *SyncOrchestrator) syncActivityCommits(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository, activity *domain.Activity) {
	remote, err := s.client.ListActivityCommits(ctx, repo.FullName, activity.Number)
	if err != nil {
		log.Error("activity commit listing stopped",
			slog.String("repository", repo.FullName),
			slog.Int("number", activity.Number), sl.Err(err))
		run.fail("activity %s#%d: commits: %v", repo.FullName, activity.Number, err)
	}

	for _, rc := range remote {
		if err := s.upsertCommit(ctx, run, repo.ID, &activity.ID, rc); err != nil {
			run.fail("commit %s: %v", rc.SHA, err)
		}
	}
}

// syncRepositoryCommits ingests direct pushes not attached to any activity.
// Commits already stored through an activity's listing keep their
// activity_id; the upsert never clears it.
func (s *SyncOrchestrator) syncRepositoryCommits(ctx context.Context, log *slog.Logger, run *syncRun, repo domain.Repository) {
	remote, err := s.client.ListCommits(ctx, repo.FullName, run.since)
	if err != nil {
		log.Error("commit listing stopped",
			slog.String("repository", repo.FullName), sl.Err(err))
		run.fail("repository %s: commits: %v", repo.FullName, err)
	}

	for _, rc := range remote {
		if err := s.upsertCommit(ctx, run, repo.ID, nil, rc); err != nil {
			run.fail("commit %s: %v", rc.SHA, err)
		}
	}
}

func (s *SyncOrchestrator) upsertCommit(ctx context.Context, run *syncRun, repoID int64, activityID *int64, rc platform.RemoteCommit) error {
	var authorID, committerID *int64

	if rc.AuthorUsername != nil {
		author, err := s.resolveActor(ctx, run, *rc.AuthorUsername)
		if err != nil {
			return fmt.Errorf("failed to resolve author '%s': %w", *rc.AuthorUsername, err)
		}
		authorID = &author.ID
	}

	if rc.CommitterUsername != nil {
		committer, err := s.resolveActor(ctx, run, *rc.CommitterUsername)
		if err != nil {
			return fmt.Errorf("failed to resolve committer '%s': %w", *rc.CommitterUsername, err)
		}
		committerID = &committer.ID
	}

	_, err := s.commits.Upsert(ctx, &domain.Commit{
		SHA:          rc.SHA,
		RepositoryID: repoID,
		ActivityID:   activityID,
		AuthorID:     authorID,
		CommitterID:  committerID,
		Message:      rc.Message,
		Additions:    rc.Additions,
		Deletions:    rc.Deletions,
		CommittedAt:  rc.CommittedAt,
	})
	if err != nil {
		return err
	}

	run.result.CommitsSynced++
	return nil
}

func (s *SyncOrchestrator) reconcileCounters(ctx context.Context, activityID int64) error {
	reviews, err := s.reviews.CountByActivity(ctx, activityID)
	if err != nil {
		return fmt.Errorf("failed to count reviews: %w", err)
	}

	comments, err := s.comments.CountByActivity(ctx, activityID)
	if err != nil {
		return fmt.Errorf("failed to count comments: %w", err)
	}

	commits, err := s.commits.CountByActivity(ctx, activityID)
	if err != nil {
		return fmt.Errorf("failed to count commits: %w", err)
	}

	return s.activities.UpdateCounters(ctx, activityID, reviews, comments, commits)
}

// A deleted upstream account carries no login in the listings. Its
// contributions are attributed to one local placeholder actor instead of
// being dropped or looked up by an empty name.
const (
	placeholderUsername   = "ghost"
	placeholderExternalID = -1
)

// resolveActor finds a locally-stored actor by username, fetching a minimal
// profile on demand for identities never seen in the bulk listing. At most
// one store lookup (plus one API call) per username per run.
func (s *SyncOrchestrator) resolveActor(ctx context.Context, run *syncRun, username string) (*domain.Actor, error) {
	if actor, ok := run.actorByName[username]; ok {
		return actor, nil
	}

	if username == "" {
		actor, err := s.actors.Upsert(ctx, &domain.Actor{
			ExternalID: placeholderExternalID,
			Username:   placeholderUsername,
			IsActive:   false,
			LastSyncAt: &run.now,
		})
		if err != nil {
			return nil, err
		}

		run.actorByName[""] = actor
		return actor, nil
	}

	actor, err := s.actors.GetByUsername(ctx, username)
	if err == nil {
		run.actorByName[username] = actor
		return actor, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	remote, err := s.client.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	actor, err = s.actors.Upsert(ctx, &domain.Actor{
		ExternalID: remote.ExternalID,
		Username:   remote.Username,
		Name:       remote.Name,
		Email:      remote.Email,
		AvatarURL:  remote.AvatarURL,
		IsActive:   true,
		LastSyncAt: &run.now,
	})
	if err != nil {
		return nil, err
	}

	run.actorByName[username] = actor
	return actor, nil
}

// courtesyWait inserts a small delay between successive listings,
// independent of the client's own quota throttling.
func (s *SyncOrchestrator) courtesyWait(ctx context.Context) {
	if s.cfg.CourtesyDelay <= 0 {
		return
	}

	t := time.NewTimer(s.cfg.CourtesyDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func splitFullName(fullName string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(fullName, "/")
	return owner, name, ok && owner != "" && name != ""
}
