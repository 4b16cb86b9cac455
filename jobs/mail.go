package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/techinfoplus/tip-erp/internal/jobs"
)

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message.
func (m LogMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail", slog.String("to", msg.To), slog.String("subject", msg.Subject), slog.Int("body_bytes", len(msg.Body)))
	return nil
}

// SendEmailJob processes TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Mailer  Mailer
	Metrics *jobmetrics.Metrics
}

// Handle decodes and delivers the message. Malformed payloads are not retried.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return asynq.SkipRetry
	}
	if j == nil || j.Mailer == nil {
		return errors.New("send email: mailer not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskTypeSendEmail)
	return tracker.End(j.Mailer.Send(ctx, payload))
}
