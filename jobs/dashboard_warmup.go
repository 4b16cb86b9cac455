package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/techinfoplus/tip-erp/internal/jobs"
)

// Warmer precomputes cached dashboard views.
type Warmer interface {
	Warm(ctx context.Context) error
}

// DashboardWarmupJob refills the dashboard cache so the first visitor after a
// bump does not pay for the aggregates.
type DashboardWarmupJob struct {
	Reports Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// Handle processes TaskDashboardWarmup tasks.
func (j *DashboardWarmupJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil {
		return errors.New("dashboard warmup: reports not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskDashboardWarmup)
	defer func() { resultErr = tracker.End(resultErr) }()

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := j.Reports.Warm(ctx); err != nil {
		jobLogger(j.Logger, TaskDashboardWarmup).Error("warm dashboard", slog.Any("error", err))
		return err
	}
	jobLogger(j.Logger, TaskDashboardWarmup).Info("dashboard warmed", slog.Duration("duration", time.Since(start)))
	return nil
}
