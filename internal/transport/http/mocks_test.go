package http

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/avoronov/gitpulse/internal/platform"
	"github.com/avoronov/gitpulse/internal/scheduler"
	"github.com/avoronov/gitpulse/internal/service"
)

type SyncServiceMock struct {
	mock.Mock
}

var _ SyncService = (*SyncServiceMock)(nil)

func (m *SyncServiceMock) Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SyncResult), args.Error(1)
}

func (m *SyncServiceMock) Status() service.SyncStatus {
	args := m.Called()
	return args.Get(0).(service.SyncStatus)
}

func (m *SyncServiceMock) Stop() {
	m.Called()
}

type MetricsServiceMock struct {
	mock.Mock
}

var _ MetricsService = (*MetricsServiceMock)(nil)

func (m *MetricsServiceMock) Calculate(ctx context.Context, opts service.CalcOptions) (*service.CalcResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CalcResult), args.Error(1)
}

func (m *MetricsServiceMock) Status() service.CalcStatus {
	args := m.Called()
	return args.Get(0).(service.CalcStatus)
}

type SchedulerServiceMock struct {
	mock.Mock
}

var _ SchedulerService = (*SchedulerServiceMock)(nil)

func (m *SchedulerServiceMock) Start(ctx context.Context)   { m.Called(ctx) }
func (m *SchedulerServiceMock) Stop()                       { m.Called() }
func (m *SchedulerServiceMock) Restart(ctx context.Context) { m.Called(ctx) }

func (m *SchedulerServiceMock) Running() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *SchedulerServiceMock) Jobs() []scheduler.Job {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]scheduler.Job)
}

func (m *SchedulerServiceMock) RunJob(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *SchedulerServiceMock) UpdateJobSchedule(name string, interval time.Duration) error {
	args := m.Called(name, interval)
	return args.Error(0)
}

type RateLimitReaderMock struct {
	mock.Mock
}

var _ RateLimitReader = (*RateLimitReaderMock)(nil)

func (m *RateLimitReaderMock) RateLimitState() platform.RateLimitState {
	args := m.Called()
	return args.Get(0).(platform.RateLimitState)
}
