package models

import "time"

// ProcessedEnvelope records a change notification that has been fully handled.
type ProcessedEnvelope struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Entity      string    `gorm:"not null" json:"entity"`
	Operation   string    `gorm:"not null" json:"operation"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

func (ProcessedEnvelope) TableName() string {
	return "processed_envelopes"
}
