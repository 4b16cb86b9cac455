package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/techinfoplus/tip-erp/internal/stock"
)

type fakeSource struct {
	items []stock.LowStockItem
	err   error
	limit int
}

func (f *fakeSource) LowStock(ctx context.Context, limit int) ([]stock.LowStockItem, error) {
	f.limit = limit
	return f.items, f.err
}

type fakeMail struct {
	sent []SendEmailPayload
}

func (f *fakeMail) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	f.sent = append(f.sent, payload)
	return &asynq.TaskInfo{ID: "t1"}, nil
}

func (f *fakeMail) Send(ctx context.Context, msg SendEmailPayload) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeWarmer struct{ calls int }

func (f *fakeWarmer) Warm(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeCleaner struct{ olderThan time.Duration }

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, nil
}

func lowItems() []stock.LowStockItem {
	return []stock.LowStockItem{
		{ArticleID: 1, Code: "ART0001", Designation: "Toner HP 85A", Stock: 1, AlertThreshold: 5},
		{ArticleID: 2, Code: "ART0002", Designation: "Clavier USB", Stock: 0, AlertThreshold: 2},
	}
}

func TestLowStockScanMailsWhenRecipientSet(t *testing.T) {
	source := &fakeSource{items: lowItems()}
	mail := &fakeMail{}
	job := &LowStockScanJob{Source: source, Mail: mail, NotifyTo: "stock@techinfoplus.test"}

	task, err := NewLowStockScanTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, defaultLowStockLimit, source.limit)
	require.Len(t, mail.sent, 1)
	require.Equal(t, "stock@techinfoplus.test", mail.sent[0].To)
	require.Equal(t, "Stock alert: 2 article(s) low", mail.sent[0].Subject)
	require.Contains(t, mail.sent[0].Body, "ART0001 Toner HP 85A: 1 in stock (threshold 5)")
}

func TestLowStockScanWithoutRecipientOnlyLogs(t *testing.T) {
	mail := &fakeMail{}
	job := &LowStockScanJob{Source: &fakeSource{items: lowItems()}, Mail: mail}
	task, err := NewLowStockScanTask(10)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, mail.sent)
}

func TestLowStockScanPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	job := &LowStockScanJob{Source: &fakeSource{err: boom}}
	task, err := NewLowStockScanTask(10)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestDashboardWarmupCallsReports(t *testing.T) {
	warmer := &fakeWarmer{}
	job := &DashboardWarmupJob{Reports: warmer}
	task, err := NewDashboardWarmupTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, warmer.calls)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultIdempotencyRetention, cleaner.olderThan)
}

func TestSendEmailJob(t *testing.T) {
	mail := &fakeMail{}
	job := &SendEmailJob{Mailer: mail}

	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewSendEmailTask(SendEmailPayload{To: "a@b.test", Subject: "hi", Body: "x"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mail.sent, 1)
}

func TestNewTaskByName(t *testing.T) {
	task, err := NewTask(TaskLowStockScan)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockScan, task.Type())

	var payload LowStockScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Zero(t, payload.Limit)

	_, err = NewTask("gl:integrity")
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestRecovererTurnsPanicIntoError(t *testing.T) {
	h := recoverer(nil)(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		panic("boom")
	}))
	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskDashboardWarmup, nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reports:warmup panicked")
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
