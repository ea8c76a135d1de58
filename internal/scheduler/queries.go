package scheduler

import (
	"time"

	"gorm.io/gorm"

	"github.com/coreman27/infra/internal/models"
)

// claimDueTasks locks due tasks and marks them firing. Tasks left in firing
// longer than staleAfter (e.g. by a crashed instance) are reclaimed.
func claimDueTasks(db *gorm.DB, now time.Time, staleAfter time.Duration, limit int) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Raw(`
			SELECT *
			FROM scheduled_tasks
			WHERE (status = ? AND next_attempt_at <= ?)
			   OR (status = ? AND updated_at <= ?)
			ORDER BY next_attempt_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`, models.TaskPending, now, models.TaskFiring, now.Add(-staleAfter), limit).Scan(&tasks).Error
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		names := make([]string, len(tasks))
		for i, t := range tasks {
			names[i] = t.Name
		}
		return tx.Model(&models.ScheduledTask{}).
			Where("name IN ?", names).
			Updates(map[string]interface{}{
				"status":     models.TaskFiring,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// recordAttempt stores the attempt log and the task's next state.
func recordAttempt(db *gorm.DB, attempt models.TaskAttemptLog, outcome TaskOutcome) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":          outcome.Status,
			"attempt_count":   attempt.AttemptNo,
			"next_attempt_at": outcome.NextAttemptAt,
			"updated_at":      time.Now().UTC(),
		}
		if outcome.LastError != nil {
			updates["last_error"] = *outcome.LastError
		}
		if outcome.NextAttemptAt.IsZero() {
			delete(updates, "next_attempt_at")
		}
		return tx.Model(&models.ScheduledTask{}).
			Where("name = ?", attempt.TaskName).
			Updates(updates).Error
	})
}
