// Package jobs runs the background tasks of the ERP on Asynq: low stock
// scans, dashboard cache warmup, idempotency key cleanup and mail delivery.
package jobs

import (
	"errors"
	"log/slog"

	jobmetrics "github.com/techinfoplus/tip-erp/internal/jobs"
)

// ErrUnknownTask rejects a task name the worker does not handle.
var ErrUnknownTask = errors.New("jobs: unknown task")

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
