package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avoronov/gitpulse/internal/domain"
)

// This file is the graph-transport normalization adapter. Activity listings
// go through the graph API because it returns review/comment totals in the
// same response; everything it emits is the same canonical shape the REST
// adapter produces.

const activitiesQuery = `
query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(first: 50, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        databaseId
        number
        title
        state
        merged
        author { login }
        additions
        deletions
        labels(first: 20) { nodes { name } }
        createdAt
        closedAt
        mergedAt
        updatedAt
        reviews { totalCount }
        comments { totalCount }
      }
    }
  }
}`

type graphActivityNode struct {
	DatabaseID int64  `json:"databaseId"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"`
	Merged     bool   `json:"merged"`
	Author     *struct {
		Login string `json:"login"`
	} `json:"author"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Labels    struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Reviews   struct {
		TotalCount int `json:"totalCount"`
	} `json:"reviews"`
	Comments struct {
		TotalCount int `json:"totalCount"`
	} `json:"comments"`
}

func (n graphActivityNode) normalize() RemoteActivity {
	state := domain.ActivityStateOpen
	switch {
	case n.Merged || n.MergedAt != nil:
		state = domain.ActivityStateMerged
	case n.State == "CLOSED" || n.State == "closed":
		state = domain.ActivityStateClosed
	}

	var labels domain.JSONMap
	if len(n.Labels.Nodes) > 0 {
		names := make([]string, len(n.Labels.Nodes))
		for i, l := range n.Labels.Nodes {
			names[i] = l.Name
		}
		labels = domain.JSONMap{"labels": names}
	}

	author := ""
	if n.Author != nil {
		author = n.Author.Login
	}

	return RemoteActivity{
		ExternalID:       n.DatabaseID,
		Number:           n.Number,
		Title:            n.Title,
		State:            state,
		Merged:           n.Merged || n.MergedAt != nil,
		AuthorUsername:   author,
		Additions:        n.Additions,
		Deletions:        n.Deletions,
		Labels:           labels,
		CreatedAt:        n.CreatedAt,
		ClosedAt:         n.ClosedAt,
		MergedAt:         n.MergedAt,
		ReportedReviews:  n.Reviews.TotalCount,
		ReportedComments: n.Comments.TotalCount,
	}
}

type graphActivitiesPayload struct {
	Repository struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []graphActivityNode `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"repository"`
}

// ListActivities fetches pull/merge requests of one repository updated at or
// after since, advancing the opaque cursor while the server reports a next
// page. Results are ordered newest-first by the server, so the listing stops
// as soon as a node falls behind the window.
func (c *Client) ListActivities(ctx context.Context, owner, name string, since time.Time) ([]RemoteActivity, error) {
	const op = "internal.platform.ListActivities"

	var out []RemoteActivity
	var cursor *string

	for {
		variables := map[string]any{"owner": owner, "name": name}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		data, err := c.ExecuteQuery(ctx, activitiesQuery, variables)
		if err != nil {
			return out, fmt.Errorf("%s: %w", op, err)
		}

		var payload graphActivitiesPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return out, fmt.Errorf("%s: failed to decode payload: %w", op, err)
		}

		prs := payload.Repository.PullRequests
		for _, node := range prs.Nodes {
			if !since.IsZero() && node.UpdatedAt.Before(since) {
				return out, nil
			}
			out = append(out, node.normalize())
		}

		if !prs.PageInfo.HasNextPage || prs.PageInfo.EndCursor == "" {
			return out, nil
		}
		cursor = &prs.PageInfo.EndCursor
	}
}
