package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskLowStockScan looks for articles at or below their alert threshold.
	TaskLowStockScan = "stock:low_scan"
	// TaskDashboardWarmup refills the dashboard cache.
	TaskDashboardWarmup = "reports:warmup"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LowStockScanPayload bounds the scan.
type LowStockScanPayload struct {
	Limit int `json:"limit"`
}

// IdempotencyCleanupPayload sets the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	MaxAge time.Duration `json:"max_age"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	return newTask(TaskTypeSendEmail, payload)
}

// NewLowStockScanTask constructs the low stock scan task.
func NewLowStockScanTask(limit int) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, LowStockScanPayload{Limit: limit})
}

// NewDashboardWarmupTask constructs the dashboard warmup task.
func NewDashboardWarmupTask() (*asynq.Task, error) {
	return newTask(TaskDashboardWarmup, struct{}{})
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(maxAge time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{MaxAge: maxAge})
}

// NewTask builds a task by type with its default payload.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskLowStockScan:
		return NewLowStockScanTask(0)
	case TaskDashboardWarmup:
		return NewDashboardWarmupTask()
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(0)
	default:
		return nil, ErrUnknownTask
	}
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
