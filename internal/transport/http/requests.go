package http

import "time"

type triggerSyncRequest struct {
	FullSync         bool       `json:"full_sync"`
	Since            *time.Time `json:"since"`
	SkipMembers      bool       `json:"skip_members"`
	SkipRepositories bool       `json:"skip_repositories"`
}

type triggerMetricsRequest struct {
	Scope        string     `json:"scope" validate:"metric_scope"`
	ActorID      *int64     `json:"actor_id"`
	RepositoryID *int64     `json:"repository_id"`
	Period       string     `json:"period" validate:"metric_period"`
	From         *time.Time `json:"from"`
	To           *time.Time `json:"to"`
	Recalculate  bool       `json:"recalculate"`
}

type updateScheduleRequest struct {
	// Interval is a Go duration string, e.g. "30m" or "6h".
	Interval string `json:"interval" validate:"required"`
}
