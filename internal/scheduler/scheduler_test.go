package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
)

func newMockScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return New(db, 8, zap.NewNop()), mock
}

func renewalTask() ports.Task {
	return ports.Task{
		Name:       TaskName(PurposeRenewal, "con_1"),
		Purpose:    PurposeRenewal,
		ContractID: "con_1",
		TargetURL:  "https://contracts.example.com/tasks/renewal",
		Payload:    map[string]any{"contractId": "con_1"},
		FireAt:     time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC),
	}
}

func TestTaskName(t *testing.T) {
	assert.Equal(t, "renewal-con_1", TaskName(PurposeRenewal, "con_1"))
	assert.Equal(t, TaskName(PurposeRenewal, "a/b c"), TaskName(PurposeRenewal, "a/b c"))
	assert.Equal(t, "renewal-a_b_c", TaskName(PurposeRenewal, "a/b c"))
}

func TestScheduler_Schedule_Inserts(t *testing.T) {
	s, mock := newMockScheduler(t)
	mock.ExpectExec(`INSERT INTO "scheduled_tasks" .* ON CONFLICT \("name"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Schedule(context.Background(), renewalTask()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Schedule_ExistingTaskIsNoop(t *testing.T) {
	s, mock := newMockScheduler(t)
	mock.ExpectExec(`INSERT INTO "scheduled_tasks"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Schedule(context.Background(), renewalTask()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Schedule_DatabaseErrorIsTransient(t *testing.T) {
	s, mock := newMockScheduler(t)
	mock.ExpectExec(`INSERT INTO "scheduled_tasks"`).WillReturnError(errors.New("connection reset"))

	err := s.Schedule(context.Background(), renewalTask())
	require.Error(t, err)
	assert.True(t, sideeffect.IsTransient(err))
}

func TestScheduler_Schedule_RequiresNameAndURL(t *testing.T) {
	s, _ := newMockScheduler(t)
	task := renewalTask()
	task.TargetURL = ""

	err := s.Schedule(context.Background(), task)
	require.Error(t, err)
	assert.True(t, sideeffect.IsPermanent(err))
}

func TestCalculateBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), CalculateBackoffDelay(0))
	assert.Equal(t, time.Duration(0), CalculateBackoffDelay(1))
	assert.Equal(t, time.Minute, CalculateBackoffDelay(2))
	assert.Equal(t, 24*time.Hour, CalculateBackoffDelay(8))
	assert.Equal(t, 24*time.Hour, CalculateBackoffDelay(50))
}

func TestParseRetryAfterHeader(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfterHeader("120", now)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	d, ok = ParseRetryAfterHeader(now.Add(30*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = ParseRetryAfterHeader("soon", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfterHeader("", now)
	assert.False(t, ok)
}

func TestSignature_RoundTrip(t *testing.T) {
	payload := []byte(`{"contractId":"con_1"}`)
	sig, err := GenerateHMACSignature(payload, "s3cret")
	require.NoError(t, err)

	assert.True(t, VerifySignature(payload, "s3cret", sig))
	assert.False(t, VerifySignature(payload, "other", sig))
	assert.False(t, VerifySignature([]byte(`{}`), "s3cret", sig))
	assert.False(t, VerifySignature(payload, "s3cret", "deadbeef"))

	_, err = GenerateHMACSignature(payload, "")
	assert.Error(t, err)
}

func intPtr(i int) *int { return &i }

func TestProcessDeliveryResult(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		out := ProcessDeliveryResult(&DeliveryResult{HTTPStatus: intPtr(204)}, 1, 8, now)
		assert.Equal(t, models.TaskSucceeded, out.Status)
		assert.Nil(t, out.LastError)
	})

	t.Run("server error backs off", func(t *testing.T) {
		out := ProcessDeliveryResult(&DeliveryResult{HTTPStatus: intPtr(500)}, 1, 8, now)
		assert.Equal(t, models.TaskPending, out.Status)
		assert.Equal(t, now.Add(time.Minute), out.NextAttemptAt)
		require.NotNil(t, out.LastError)
		assert.Contains(t, *out.LastError, "HTTP 500")
	})

	t.Run("rate limited honours retry-after", func(t *testing.T) {
		out := ProcessDeliveryResult(&DeliveryResult{HTTPStatus: intPtr(429), RetryAfter: "90"}, 1, 8, now)
		assert.Equal(t, models.TaskPending, out.Status)
		assert.Equal(t, now.Add(90*time.Second), out.NextAttemptAt)
	})

	t.Run("network error at max attempts fails", func(t *testing.T) {
		out := ProcessDeliveryResult(&DeliveryResult{Error: errors.New("dial tcp: refused")}, 8, 8, now)
		assert.Equal(t, models.TaskFailed, out.Status)
		require.NotNil(t, out.LastError)
		assert.Contains(t, *out.LastError, "Max attempts reached")
	})
}

func TestDeliverTask_SignsRequest(t *testing.T) {
	payload := []byte(`{"contractId":"con_1"}`)
	var gotSig, gotName string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotName = r.Header.Get(TaskNameHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	result := deliverTask(context.Background(), srv.Client(), "renewal-con_1", srv.URL, payload, "s3cret", 4096, zap.NewNop())

	require.NoError(t, result.Error)
	require.NotNil(t, result.HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, *result.HTTPStatus)
	assert.Equal(t, "5", result.RetryAfter)
	require.NotNil(t, result.ResponseSummary)
	assert.Contains(t, *result.ResponseSummary, "slow down")
	assert.Equal(t, "renewal-con_1", gotName)
	assert.Equal(t, payload, gotBody)
	assert.True(t, VerifySignature(payload, "s3cret", gotSig))
}

func TestDeliverTask_TruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789abcdef"))
	}))
	defer srv.Close()

	result := deliverTask(context.Background(), srv.Client(), "t", srv.URL, []byte(`{}`), "k", 8, zap.NewNop())
	require.NotNil(t, result.ResponseSummary)
	assert.Contains(t, *result.ResponseSummary, "truncated")
	assert.NotContains(t, *result.ResponseSummary, "89abcdef")
}
