package database

import (
	"github.com/chatbridge/pkg/entities"
	"gorm.io/gorm"
)

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.TenantSession{},
		&entities.TenantSettings{},
		&entities.Conversation{},
		&entities.Message{},
		&entities.Persona{},
		&entities.Appointment{},
	)
}
