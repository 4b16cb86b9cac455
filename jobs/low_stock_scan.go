package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/techinfoplus/tip-erp/internal/jobs"
	"github.com/techinfoplus/tip-erp/internal/stock"
)

const defaultLowStockLimit = 200

// LowStockSource lists articles at or below their alert threshold.
type LowStockSource interface {
	LowStock(ctx context.Context, limit int) ([]stock.LowStockItem, error)
}

// MailEnqueuer queues an email.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// LowStockScanJob reports articles running low and mails the list when a
// recipient is configured.
type LowStockScanJob struct {
	Source   LowStockSource
	Mail     MailEnqueuer
	NotifyTo string
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: source not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultLowStockLimit
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskLowStockScan)
	defer func() { resultErr = tracker.End(resultErr) }()
	logger := jobLogger(j.Logger, TaskLowStockScan)

	items, err := j.Source.LowStock(ctx, payload.Limit)
	if err != nil {
		logger.Error("load low stock", slog.Any("error", err))
		return err
	}
	metrics.AddAffected(TaskLowStockScan, int64(len(items)))
	if len(items) == 0 {
		logger.Info("no article below threshold")
		return nil
	}
	for _, it := range items {
		logger.Warn("low stock", slog.String("code", it.Code), slog.Int64("stock", it.Stock), slog.Int64("threshold", it.AlertThreshold))
	}
	if j.NotifyTo == "" || j.Mail == nil {
		return nil
	}
	if _, err := j.Mail.EnqueueSendEmail(ctx, LowStockEmail(j.NotifyTo, items)); err != nil {
		logger.Error("enqueue low stock mail", slog.Any("error", err))
		return err
	}
	return nil
}

// LowStockEmail renders the alert message for items.
func LowStockEmail(to string, items []stock.LowStockItem) SendEmailPayload {
	var b strings.Builder
	fmt.Fprintf(&b, "%d article(s) at or below their alert threshold:\n\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "- %s %s: %d in stock (threshold %d)\n", it.Code, it.Designation, it.Stock, it.AlertThreshold)
	}
	return SendEmailPayload{
		To:      to,
		Subject: fmt.Sprintf("Stock alert: %d article(s) low", len(items)),
		Body:    b.String(),
	}
}
