package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avoronov/gitpulse/internal/domain"
)

// This file is the REST-transport normalization adapter: it decodes the REST
// field naming into the canonical Remote* shapes.

type restActor struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatar_url"`
}

func (a restActor) normalize() RemoteActor {
	return RemoteActor{
		ExternalID: a.ID,
		Username:   a.Login,
		Name:       a.Name,
		Email:      a.Email,
		AvatarURL:  a.AvatarURL,
	}
}

type restRepository struct {
	ID       int64          `json:"id"`
	FullName string         `json:"full_name"`
	Name     string         `json:"name"`
	Language *string        `json:"language"`
	Topics   []string       `json:"topics"`
	Archived bool           `json:"archived"`
	Extra    domain.JSONMap `json:"metadata"`
}

func (r restRepository) normalize() RemoteRepository {
	topics := r.Extra
	if topics == nil {
		topics = domain.JSONMap{}
	}
	if len(r.Topics) > 0 {
		topics["topics"] = r.Topics
	}

	return RemoteRepository{
		ExternalID: r.ID,
		FullName:   r.FullName,
		Name:       r.Name,
		Language:   r.Language,
		Topics:     topics,
		IsArchived: r.Archived,
	}
}

type restActivity struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Merged    bool       `json:"merged"`
	User      restActor  `json:"user"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Labels    []any      `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
	Reviews   int        `json:"review_comments_total"`
	Comments  int        `json:"comments"`
}

func (a restActivity) normalize() RemoteActivity {
	state := domain.ActivityState(a.State)
	if a.Merged || a.MergedAt != nil {
		state = domain.ActivityStateMerged
	}

	var labels domain.JSONMap
	if len(a.Labels) > 0 {
		labels = domain.JSONMap{"labels": a.Labels}
	}

	return RemoteActivity{
		ExternalID:       a.ID,
		Number:           a.Number,
		Title:            a.Title,
		State:            state,
		Merged:           a.Merged || a.MergedAt != nil,
		AuthorUsername:   a.User.Login,
		Additions:        a.Additions,
		Deletions:        a.Deletions,
		Labels:           labels,
		CreatedAt:        a.CreatedAt,
		ClosedAt:         a.ClosedAt,
		MergedAt:         a.MergedAt,
		ReportedReviews:  a.Reviews,
		ReportedComments: a.Comments,
	}
}

type restReview struct {
	ID          int64     `json:"id"`
	User        restActor `json:"user"`
	State       string    `json:"state"`
	Body        *string   `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (r restReview) normalize() RemoteReview {
	return RemoteReview{
		ExternalID:       r.ID,
		ReviewerUsername: r.User.Login,
		State:            normalizeReviewState(r.State),
		Body:             r.Body,
		SubmittedAt:      r.SubmittedAt,
	}
}

type restComment struct {
	ID        int64          `json:"id"`
	User      restActor      `json:"user"`
	Body      string         `json:"body"`
	Reactions domain.JSONMap `json:"reactions"`
	ReviewID  *int64         `json:"pull_request_review_id"`
	CreatedAt time.Time      `json:"created_at"`
}

func (c restComment) normalize(kind domain.CommentType) RemoteComment {
	return RemoteComment{
		ExternalID:       c.ID,
		AuthorUsername:   c.User.Login,
		Type:             kind,
		Body:             c.Body,
		Reactions:        c.Reactions,
		ReviewExternalID: c.ReviewID,
		CreatedAt:        c.CreatedAt,
	}
}

type restCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author    *restActor `json:"author"`
	Committer *restActor `json:"committer"`
	Stats     struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

func (c restCommit) normalize() RemoteCommit {
	out := RemoteCommit{
		SHA:         c.SHA,
		Message:     c.Commit.Message,
		Additions:   c.Stats.Additions,
		Deletions:   c.Stats.Deletions,
		CommittedAt: c.Commit.Author.Date,
	}
	if c.Author != nil && c.Author.Login != "" {
		out.AuthorUsername = &c.Author.Login
	}
	if c.Committer != nil && c.Committer.Login != "" {
		out.CommitterUsername = &c.Committer.Login
	}
	return out
}

func normalizeReviewState(s string) domain.ReviewState {
	switch s {
	case "APPROVED", "approved":
		return domain.ReviewStateApproved
	case "CHANGES_REQUESTED", "changes_requested":
		return domain.ReviewStateChangesRequested
	case "COMMENTED", "commented":
		return domain.ReviewStateCommented
	case "DISMISSED", "dismissed":
		return domain.ReviewStateDismissed
	default:
		return domain.ReviewStatePending
	}
}

// collect walks a REST listing page by page until the server reports no more
// data. A failed page fetch stops that listing's pagination; there is no
// skip-ahead retry.
func collect[T any](ctx context.Context, c *Client, resource string, params url.Values, decode func(json.RawMessage) (T, error)) ([]T, error) {
	var out []T

	page := 1
	for {
		if params == nil {
			params = url.Values{}
		}
		params.Set("page", strconv.Itoa(page))

		p, err := c.FetchPage(ctx, resource, params)
		if err != nil {
			return out, err
		}

		for _, raw := range p.Items {
			item, err := decode(raw)
			if err != nil {
				return out, err
			}
			out = append(out, item)
		}

		if !p.HasMore || p.NextPage == 0 {
			return out, nil
		}
		page = p.NextPage
	}
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// ListMembers enumerates the organization's bulk membership listing.
func (c *Client) ListMembers(ctx context.Context) ([]RemoteActor, error) {
	const op = "internal.platform.ListMembers"

	raw, err := collect(ctx, c, fmt.Sprintf("orgs/%s/members", c.org), nil, decodeInto[restActor])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteActor, len(raw))
	for i, a := range raw {
		out[i] = a.normalize()
	}
	return out, nil
}

// GetUser fetches a minimal profile for one username. Used for lazy
// find-or-create resolution of actors never seen in the bulk listing.
func (c *Client) GetUser(ctx context.Context, username string) (*RemoteActor, error) {
	const op = "internal.platform.GetUser"

	body, err := c.doWithRetry(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(username)), nil)
	})
	if err != nil {
		return nil, err
	}

	var a restActor
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	actor := a.normalize()
	return &actor, nil
}

// ListRepositories enumerates the organization's repositories.
func (c *Client) ListRepositories(ctx context.Context) ([]RemoteRepository, error) {
	const op = "internal.platform.ListRepositories"

	raw, err := collect(ctx, c, fmt.Sprintf("orgs/%s/repos", c.org), nil, decodeInto[restRepository])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteRepository, len(raw))
	for i, r := range raw {
		out[i] = r.normalize()
	}
	return out, nil
}

// ListReviews fetches all reviews of one activity.
func (c *Client) ListReviews(ctx context.Context, repoFullName string, number int) ([]RemoteReview, error) {
	const op = "internal.platform.ListReviews"

	resource := fmt.Sprintf("repos/%s/pulls/%d/reviews", repoFullName, number)
	raw, err := collect(ctx, c, resource, nil, decodeInto[restReview])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteReview, len(raw))
	for i, r := range raw {
		out[i] = r.normalize()
	}
	return out, nil
}

// ListIssueComments fetches conversation-level comments of one activity.
func (c *Client) ListIssueComments(ctx context.Context, repoFullName string, number int) ([]RemoteComment, error) {
	const op = "internal.platform.ListIssueComments"

	resource := fmt.Sprintf("repos/%s/issues/%d/comments", repoFullName, number)
	raw, err := collect(ctx, c, resource, nil, decodeInto[restComment])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteComment, len(raw))
	for i, cm := range raw {
		out[i] = cm.normalize(domain.CommentTypeIssue)
	}
	return out, nil
}

// ListReviewComments fetches line-level review comments of one activity.
func (c *Client) ListReviewComments(ctx context.Context, repoFullName string, number int) ([]RemoteComment, error) {
	const op = "internal.platform.ListReviewComments"

	resource := fmt.Sprintf("repos/%s/pulls/%d/comments", repoFullName, number)
	raw, err := collect(ctx, c, resource, nil, decodeInto[restComment])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteComment, len(raw))
	for i, cm := range raw {
		out[i] = cm.normalize(domain.CommentTypeReviewLine)
	}
	return out, nil
}

// ListActivityCommits fetches the commits belonging to one activity.
func (c *Client) ListActivityCommits(ctx context.Context, repoFullName string, number int) ([]RemoteCommit, error) {
	const op = "internal.platform.ListActivityCommits"

	resource := fmt.Sprintf("repos/%s/pulls/%d/commits", repoFullName, number)
	raw, err := collect(ctx, c, resource, nil, decodeInto[restCommit])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteCommit, len(raw))
	for i, cm := range raw {
		out[i] = cm.normalize()
	}
	return out, nil
}

// ListCommits fetches commits of one repository since a lower bound.
func (c *Client) ListCommits(ctx context.Context, repoFullName string, since time.Time) ([]RemoteCommit, error) {
	const op = "internal.platform.ListCommits"

	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.Format(time.RFC3339))
	}

	raw, err := collect(ctx, c, fmt.Sprintf("repos/%s/commits", repoFullName), params, decodeInto[restCommit])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]RemoteCommit, len(raw))
	for i, cm := range raw {
		out[i] = cm.normalize()
	}
	return out, nil
}
