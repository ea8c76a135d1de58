package models

import "time"

// Task states
const (
	TaskPending   = "pending"
	TaskFiring    = "firing"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// ScheduledTask is a deferred HTTP callback. Name is the deduplication key.
type ScheduledTask struct {
	Name          string    `gorm:"primaryKey" json:"name"`
	Purpose       string    `gorm:"not null" json:"purpose"`
	ContractID    string    `gorm:"not null" json:"contract_id"`
	TargetURL     string    `gorm:"not null" json:"target_url"`
	Payload       string    `gorm:"type:jsonb;not null" json:"payload"`
	FireAt        time.Time `gorm:"not null" json:"fire_at"`
	Status        string    `gorm:"not null" json:"status"`
	AttemptCount  int       `gorm:"not null" json:"attempt_count"`
	MaxAttempts   int       `gorm:"not null" json:"max_attempts"`
	NextAttemptAt time.Time `gorm:"not null" json:"next_attempt_at"`
	LastError     *string   `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

type TaskAttemptLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskName        string    `gorm:"not null" json:"task_name"`
	AttemptNo       int       `gorm:"not null" json:"attempt_no"`
	StartedAt       time.Time `gorm:"not null" json:"started_at"`
	FinishedAt      time.Time `gorm:"not null" json:"finished_at"`
	HTTPStatus      *int      `json:"http_status"`
	LatencyMs       *int      `json:"latency_ms"`
	ResponseSummary *string   `json:"response_summary"`
	CreatedAt       time.Time `json:"created_at"`
}

func (TaskAttemptLog) TableName() string {
	return "task_attempt_log"
}
