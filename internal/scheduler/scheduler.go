// Package scheduler persists deferred callbacks and fires them when due.
//
// Task names are deterministic, so scheduling the same purpose for the same
// contract twice leaves a single task behind.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coreman27/infra/internal/models"
	"github.com/coreman27/infra/internal/ports"
	"github.com/coreman27/infra/internal/sideeffect"
)

// PurposeRenewal is the purpose of the task that runs the renewal decision
// one day before a contract ends.
const PurposeRenewal = "renewal"

// TaskName derives the deduplication key for a task.
func TaskName(purpose, contractID string) string {
	var b strings.Builder
	for _, r := range purpose + "-" + contractID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

type Scheduler struct {
	db          *gorm.DB
	maxAttempts int
	logger      *zap.Logger
}

func New(db *gorm.DB, maxAttempts int, logger *zap.Logger) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = len(backoffDelays)
	}
	return &Scheduler{db: db, maxAttempts: maxAttempts, logger: logger}
}

var _ ports.TaskScheduler = (*Scheduler)(nil)

// Schedule inserts the task unless one with the same name already exists,
// in which case it returns nil without touching the existing task.
func (s *Scheduler) Schedule(ctx context.Context, task ports.Task) error {
	if task.Name == "" || task.TargetURL == "" {
		return sideeffect.Permanent(fmt.Errorf("schedule task: name and target url are required"))
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return sideeffect.Permanent(fmt.Errorf("schedule task %s: marshal payload: %w", task.Name, err))
	}

	now := time.Now().UTC()
	fireAt := task.FireAt.UTC()
	row := models.ScheduledTask{
		Name:          task.Name,
		Purpose:       task.Purpose,
		ContractID:    task.ContractID,
		TargetURL:     task.TargetURL,
		Payload:       string(payload),
		FireAt:        fireAt,
		Status:        models.TaskPending,
		MaxAttempts:   s.maxAttempts,
		NextAttemptAt: fireAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return sideeffect.Transient(fmt.Errorf("schedule task %s: %w", task.Name, res.Error))
	}

	if res.RowsAffected == 0 {
		s.logger.Debug("Task already exists, treating as scheduled",
			zap.String("task_name", task.Name),
		)
		return nil
	}
	s.logger.Info("Task scheduled",
		zap.String("task_name", task.Name),
		zap.String("contract_id", task.ContractID),
		zap.Time("fire_at", fireAt),
	)
	return nil
}
