package entities

import "time"

// Persona is the instruction set an automated reply speaks with.
type Persona struct {
	ID           string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID     string    `json:"tenant_id" gorm:"type:varchar(64);index"`
	Name         string    `json:"name" gorm:"type:varchar(255)"`
	Instructions string    `json:"instructions" gorm:"type:text"`
	Greeting     string    `json:"greeting" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
