package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/platform"
	"github.com/avoronov/gitpulse/internal/repository"
)

type PlatformClientMock struct {
	mock.Mock
}

var _ PlatformClient = (*PlatformClientMock)(nil)

func (m *PlatformClientMock) ListMembers(ctx context.Context) ([]platform.RemoteActor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteActor), args.Error(1)
}

func (m *PlatformClientMock) GetUser(ctx context.Context, username string) (*platform.RemoteActor, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*platform.RemoteActor), args.Error(1)
}

func (m *PlatformClientMock) ListRepositories(ctx context.Context) ([]platform.RemoteRepository, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteRepository), args.Error(1)
}

func (m *PlatformClientMock) ListActivities(ctx context.Context, owner, name string, since time.Time) ([]platform.RemoteActivity, error) {
	args := m.Called(ctx, owner, name, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteActivity), args.Error(1)
}

func (m *PlatformClientMock) ListReviews(ctx context.Context, repoFullName string, number int) ([]platform.RemoteReview, error) {
	args := m.Called(ctx, repoFullName, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteReview), args.Error(1)
}

func (m *PlatformClientMock) ListIssueComments(ctx context.Context, repoFullName string, number int) ([]platform.RemoteComment, error) {
	args := m.Called(ctx, repoFullName, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteComment), args.Error(1)
}

func (m *PlatformClientMock) ListReviewComments(ctx context.Context, repoFullName string, number int) ([]platform.RemoteComment, error) {
	args := m.Called(ctx, repoFullName, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteComment), args.Error(1)
}

func (m *PlatformClientMock) ListActivityCommits(ctx context.Context, repoFullName string, number int) ([]platform.RemoteCommit, error) {
	args := m.Called(ctx, repoFullName, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteCommit), args.Error(1)
}

func (m *PlatformClientMock) ListCommits(ctx context.Context, repoFullName string, since time.Time) ([]platform.RemoteCommit, error) {
	args := m.Called(ctx, repoFullName, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]platform.RemoteCommit), args.Error(1)
}

func (m *PlatformClientMock) RateLimitState() platform.RateLimitState {
	args := m.Called()
	return args.Get(0).(platform.RateLimitState)
}

// memStores is an in-memory persistence layer with real upsert semantics,
// so idempotence and derived-counter behavior can be asserted on actual
// row sets instead of call expectations.
type memStores struct {
	mu sync.Mutex

	nextID     int64
	actors     map[int64]*domain.Actor // by external id
	repos      map[int64]*domain.Repository
	activities map[int64]*domain.Activity
	reviews    map[int64]*domain.Review
	comments   map[int64]*domain.Comment
	commits    map[string]*domain.Commit
}

var _ repository.ActorStore = (*memStores)(nil)

func newMemStores() *memStores {
	return &memStores{
		actors:     make(map[int64]*domain.Actor),
		repos:      make(map[int64]*domain.Repository),
		activities: make(map[int64]*domain.Activity),
		reviews:    make(map[int64]*domain.Review),
		comments:   make(map[int64]*domain.Comment),
		commits:    make(map[string]*domain.Commit),
	}
}

func (s *memStores) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStores) Upsert(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.actors[actor.ExternalID]
	if !ok {
		stored = &domain.Actor{ID: s.id(), ExternalID: actor.ExternalID}
		s.actors[actor.ExternalID] = stored
	}
	stored.Username = actor.Username
	if actor.Name != nil {
		stored.Name = actor.Name
	}
	stored.IsActive = actor.IsActive
	stored.LastSyncAt = actor.LastSyncAt

	cp := *stored
	return &cp, nil
}

func (s *memStores) GetByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actors {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("actor '%s': %w", username, apperrors.ErrNotFound)
}

type repoStore struct{ s *memStores }

var _ repository.RepositoryStore = repoStore{}

func (s *memStores) repoStore() repository.RepositoryStore { return repoStore{s} }

func (r repoStore) Upsert(ctx context.Context, repo *domain.Repository) (*domain.Repository, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.repos[repo.ExternalID]
	if !ok {
		stored = &domain.Repository{ID: r.s.id(), ExternalID: repo.ExternalID}
		r.s.repos[repo.ExternalID] = stored
	}
	stored.FullName = repo.FullName
	stored.Name = repo.Name
	stored.IsActive = repo.IsActive
	stored.LastSyncAt = repo.LastSyncAt

	cp := *stored
	return &cp, nil
}

func (r repoStore) ListActive(ctx context.Context) ([]domain.Repository, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Repository
	for _, repo := range r.s.repos {
		if repo.IsActive {
			out = append(out, *repo)
		}
	}
	return out, nil
}

type activityStore struct{ s *memStores }

var _ repository.ActivityStore = activityStore{}

func (s *memStores) activityStore() repository.ActivityStore { return activityStore{s} }

func (a activityStore) Upsert(ctx context.Context, activity *domain.Activity) (*domain.Activity, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	stored, ok := a.s.activities[activity.ExternalID]
	if !ok {
		stored = &domain.Activity{ID: a.s.id(), ExternalID: activity.ExternalID}
		a.s.activities[activity.ExternalID] = stored
	}
	counters := [3]int{stored.ReviewsCount, stored.CommentsCount, stored.CommitsCount}
	id := stored.ID
	*stored = *activity
	stored.ID = id
	stored.ReviewsCount, stored.CommentsCount, stored.CommitsCount = counters[0], counters[1], counters[2]

	cp := *stored
	return &cp, nil
}

func (a activityStore) UpdateCounters(ctx context.Context, activityID int64, reviews, comments, commits int) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for _, act := range a.s.activities {
		if act.ID == activityID {
			act.ReviewsCount = reviews
			act.CommentsCount = comments
			act.CommitsCount = commits
			return nil
		}
	}
	return apperrors.ErrNotFound
}

type reviewStore struct{ s *memStores }

var _ repository.ReviewStore = reviewStore{}

func (s *memStores) reviewStore() repository.ReviewStore { return reviewStore{s} }

func (r reviewStore) Upsert(ctx context.Context, review *domain.Review) (*domain.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reviews[review.ExternalID]
	if !ok {
		stored = &domain.Review{ID: r.s.id(), ExternalID: review.ExternalID}
		r.s.reviews[review.ExternalID] = stored
	}
	id := stored.ID
	*stored = *review
	stored.ID = id

	cp := *stored
	return &cp, nil
}

func (r reviewStore) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, rv := range r.s.reviews {
		if rv.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

type commentStore struct{ s *memStores }

var _ repository.CommentStore = commentStore{}

func (s *memStores) commentStore() repository.CommentStore { return commentStore{s} }

func (c commentStore) Upsert(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	stored, ok := c.s.comments[comment.ExternalID]
	if !ok {
		stored = &domain.Comment{ID: c.s.id(), ExternalID: comment.ExternalID}
		c.s.comments[comment.ExternalID] = stored
	}
	id := stored.ID
	*stored = *comment
	stored.ID = id

	cp := *stored
	return &cp, nil
}

func (c commentStore) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	n := 0
	for _, cm := range c.s.comments {
		if cm.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

type commitStore struct{ s *memStores }

var _ repository.CommitStore = commitStore{}

func (s *memStores) commitStore() repository.CommitStore { return commitStore{s} }

func (c commitStore) Upsert(ctx context.Context, commit *domain.Commit) (*domain.Commit, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	stored, ok := c.s.commits[commit.SHA]
	if !ok {
		stored = &domain.Commit{ID: c.s.id(), SHA: commit.SHA}
		c.s.commits[commit.SHA] = stored
	}
	id := stored.ID
	activityID := stored.ActivityID
	*stored = *commit
	stored.ID = id
	if commit.ActivityID == nil {
		stored.ActivityID = activityID
	}

	cp := *stored
	return &cp, nil
}

func (c commitStore) CountByActivity(ctx context.Context, activityID int64) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	n := 0
	for _, cm := range c.s.commits {
		if cm.ActivityID != nil && *cm.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

func (s *memStores) activityByExternalID(externalID int64) *domain.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.activities[externalID]; ok {
		cp := *a
		return &cp
	}
	return nil
}

func (s *memStores) counts() (actors, repos, activities, reviews, comments, commits int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.actors), len(s.repos), len(s.activities), len(s.reviews), len(s.comments), len(s.commits)
}

// MetricsQueryStoreMock scripts the aggregate read side for engine tests.
type MetricsQueryStoreMock struct {
	mock.Mock
}

var _ repository.MetricsQueryStore = (*MetricsQueryStoreMock)(nil)

func (m *MetricsQueryStoreMock) ActorAggregates(ctx context.Context, actorID int64, from, to time.Time) (*repository.PeriodAggregates, error) {
	args := m.Called(ctx, actorID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PeriodAggregates), args.Error(1)
}

func (m *MetricsQueryStoreMock) RepositoryAggregates(ctx context.Context, repoID int64, from, to time.Time) (*repository.PeriodAggregates, error) {
	args := m.Called(ctx, repoID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PeriodAggregates), args.Error(1)
}

func (m *MetricsQueryStoreMock) TeamAggregates(ctx context.Context, from, to time.Time) (*repository.PeriodAggregates, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PeriodAggregates), args.Error(1)
}

func (m *MetricsQueryStoreMock) ListActorIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MetricsQueryStoreMock) ListRepositoryIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// memSampleStore keeps metric samples by natural key.
type memSampleStore struct {
	mu      sync.Mutex
	samples map[repository.MetricKey]*domain.MetricSample
	inserts int
	upserts int
}

var _ repository.MetricSampleStore = (*memSampleStore)(nil)

func newMemSampleStore() *memSampleStore {
	return &memSampleStore{samples: make(map[repository.MetricKey]*domain.MetricSample)}
}

func sampleKey(s *domain.MetricSample) repository.MetricKey {
	return repository.MetricKey{
		ActorID:      s.ActorID,
		RepositoryID: s.RepositoryID,
		MetricType:   s.MetricType,
		MetricName:   s.MetricName,
		Period:       s.Period,
		PeriodStart:  s.PeriodStart,
	}
}

// Pointer fields are identity-compared inside map keys, so lookups go
// through a flattened value key instead.
type flatKey struct {
	actorID      int64
	repositoryID int64
	metricType   domain.MetricScope
	metricName   string
	period       domain.MetricPeriod
	periodStart  time.Time
}

func flatten(key repository.MetricKey) flatKey {
	fk := flatKey{
		metricType:  key.MetricType,
		metricName:  key.MetricName,
		period:      key.Period,
		periodStart: key.PeriodStart.UTC(),
	}
	if key.ActorID != nil {
		fk.actorID = *key.ActorID
	}
	if key.RepositoryID != nil {
		fk.repositoryID = *key.RepositoryID
	}
	return fk
}

func (m *memSampleStore) ExistsForKey(ctx context.Context, key repository.MetricKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.samples {
		if flatten(k) == flatten(key) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memSampleStore) Insert(ctx context.Context, sample *domain.MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	for k := range m.samples {
		if flatten(k) == flatten(sampleKey(sample)) {
			return nil // conflict, row untouched
		}
	}
	cp := *sample
	m.samples[sampleKey(sample)] = &cp
	return nil
}

func (m *memSampleStore) Upsert(ctx context.Context, sample *domain.MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	for k := range m.samples {
		if flatten(k) == flatten(sampleKey(sample)) {
			cp := *sample
			m.samples[k] = &cp
			return nil
		}
	}
	cp := *sample
	m.samples[sampleKey(sample)] = &cp
	return nil
}

func (m *memSampleStore) all() []*domain.MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.MetricSample, 0, len(m.samples))
	for _, s := range m.samples {
		cp := *s
		out = append(out, &cp)
	}
	return out
}
