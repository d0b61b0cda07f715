package entities

import (
	"time"

	"gorm.io/gorm"
)

// TenantSession mirrors the live connection state of one tenant. The row is
// removed only when the tenant explicitly unlinks.
type TenantSession struct {
	gorm.Model
	TenantID       string     `json:"tenant_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	State          string     `json:"state" gorm:"type:varchar(20);default:'unauthenticated'"`
	AccountID      string     `json:"account_id" gorm:"type:varchar(255)"`
	CredentialPath string     `json:"-" gorm:"type:varchar(512)"`
	LastActiveAt   time.Time  `json:"last_active_at"`
	LoggedOutAt    *time.Time `json:"logged_out_at"`
}

// TenantSettings carries tenant-wide reply policy. RepliesEnabled has no
// column default so an explicit false is stored; seeding sets it to true.
type TenantSettings struct {
	gorm.Model
	TenantID         string `json:"tenant_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	RepliesEnabled   bool   `json:"replies_enabled" gorm:"not null"`
	DefaultPersonaID string `json:"default_persona_id" gorm:"type:varchar(64)"`
}
