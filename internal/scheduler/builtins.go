package scheduler

import (
	"context"
	"time"

	"github.com/avoronov/gitpulse/internal/config"
	"github.com/avoronov/gitpulse/internal/domain"
	"github.com/avoronov/gitpulse/internal/service"
)

// Built-in job names.
const (
	JobFullSync        = "full-sync"
	JobIncrementalSync = "incremental-sync"
	JobMetricsDaily    = "metrics-daily"
	JobMetricsWeekly   = "metrics-weekly"
	JobMetricsMonthly  = "metrics-monthly"
)

const (
	metricsDailyInterval   = 24 * time.Hour
	metricsWeeklyInterval  = 7 * 24 * time.Hour
	metricsMonthlyInterval = 30 * 24 * time.Hour
)

// SyncRunner is the orchestrator surface the built-in jobs drive.
type SyncRunner interface {
	Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error)
}

// MetricsRunner is the engine surface the rollup jobs drive.
type MetricsRunner interface {
	Calculate(ctx context.Context, opts service.CalcOptions) (*service.CalcResult, error)
}

// RegisterBuiltins wires the standard job set: a periodic full sync, a
// frequent incremental sync with a short lookback that skips the bulk
// refresh phases, and the daily/weekly/monthly metric rollups. A rejection
// by a busy orchestrator or engine surfaces as the job's LastError and
// clears on the next successful tick.
func RegisterBuiltins(s *Scheduler, cfg config.Sync, syncer SyncRunner, metrics MetricsRunner) {
	s.Register(JobFullSync, cfg.FullInterval, func(ctx context.Context) error {
		_, err := syncer.Run(ctx, service.SyncOptions{FullSync: true})
		return err
	})

	s.Register(JobIncrementalSync, cfg.IncrementalInterval, func(ctx context.Context) error {
		since := time.Now().UTC().Add(-cfg.IncrementalLookback)
		_, err := syncer.Run(ctx, service.SyncOptions{
			Since:            &since,
			SkipMembers:      true,
			SkipRepositories: true,
		})
		return err
	})

	registerRollup := func(name string, interval time.Duration, period domain.MetricPeriod) {
		s.Register(name, interval, func(ctx context.Context) error {
			_, err := metrics.Calculate(ctx, service.CalcOptions{Period: period})
			return err
		})
	}

	registerRollup(JobMetricsDaily, metricsDailyInterval, domain.PeriodDaily)
	registerRollup(JobMetricsWeekly, metricsWeeklyInterval, domain.PeriodWeekly)
	registerRollup(JobMetricsMonthly, metricsMonthlyInterval, domain.PeriodMonthly)
}
