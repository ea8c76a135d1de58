package scheduler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coreman27/infra/internal/config"
	"github.com/coreman27/infra/internal/metrics"
	"github.com/coreman27/infra/internal/models"
)

const staleFiringAfter = 10 * time.Minute

// Runner fires due tasks by POSTing their payload to the target URL.
type Runner struct {
	cfg     config.SchedulerConfig
	db      *gorm.DB
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRunner(cfg config.SchedulerConfig, db *gorm.DB, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxResponseBodySize <= 0 {
		cfg.MaxResponseBodySize = 4096
	}
	return &Runner{
		cfg:     cfg,
		db:      db,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  logger,
		metrics: m,
	}
}

// Run polls for due tasks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("Task runner started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Task runner iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Task runner stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due tasks and fires them. It returns the
// number of tasks fired.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	tasks, err := claimDueTasks(r.db.WithContext(ctx), time.Now().UTC(), staleFiringAfter, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		r.fire(ctx, task)
	}
	return len(tasks), nil
}

func (r *Runner) fire(ctx context.Context, task models.ScheduledTask) {
	startedAt := time.Now().UTC()
	result := deliverTask(ctx, r.client, task.Name, task.TargetURL, []byte(task.Payload),
		r.cfg.SigningSecret, r.cfg.MaxResponseBodySize, r.logger)
	finishedAt := time.Now().UTC()

	attemptNo := task.AttemptCount + 1
	outcome := ProcessDeliveryResult(result, attemptNo, task.MaxAttempts, finishedAt)
	r.metrics.TaskFired(task.Purpose, outcome.Status)

	latency := result.LatencyMs
	attempt := models.TaskAttemptLog{
		TaskName:        task.Name,
		AttemptNo:       attemptNo,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		HTTPStatus:      result.HTTPStatus,
		LatencyMs:       &latency,
		ResponseSummary: result.ResponseSummary,
		CreatedAt:       finishedAt,
	}
	if err := recordAttempt(r.db.WithContext(ctx), attempt, outcome); err != nil {
		r.logger.Error("Failed to record task attempt",
			zap.String("task_name", task.Name),
			zap.Error(err),
		)
		return
	}

	switch outcome.Status {
	case models.TaskSucceeded:
		r.logger.Info("Task callback succeeded",
			zap.String("task_name", task.Name),
			zap.Int("attempt", attemptNo),
			zap.Int("latency_ms", latency),
		)
	case models.TaskFailed:
		r.logger.Error("Task callback failed (max attempts reached)",
			zap.String("task_name", task.Name),
			zap.String("contract_id", task.ContractID),
			zap.Int("attempt", attemptNo),
			zap.String("last_error", *outcome.LastError),
		)
	default:
		r.logger.Warn("Task callback will be retried",
			zap.String("task_name", task.Name),
			zap.Int("attempt", attemptNo),
			zap.Time("next_attempt_at", outcome.NextAttemptAt),
			zap.String("last_error", *outcome.LastError),
		)
	}
}
