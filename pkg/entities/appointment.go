package entities

import "time"

type Appointment struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID       string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);not null;index"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	Summary        string    `json:"summary" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at"`
}
