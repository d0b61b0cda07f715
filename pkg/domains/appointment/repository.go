package appointment

import (
	"context"

	"github.com/chatbridge/pkg/database"
	"github.com/chatbridge/pkg/entities"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, appt *entities.Appointment) error
	ListByConversation(ctx context.Context, conversationID string) ([]entities.Appointment, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Create(ctx context.Context, appt *entities.Appointment) error {
	return database.Translate(r.db.WithContext(ctx).Create(appt).Error)
}

func (r *repository) ListByConversation(ctx context.Context, conversationID string) ([]entities.Appointment, error) {
	var appts []entities.Appointment
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("scheduled_for ASC").Find(&appts).Error
	return appts, database.Translate(err)
}
