package session

import (
	"context"

	"github.com/chatbridge/pkg/database"
	"github.com/chatbridge/pkg/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	SaveSession(ctx context.Context, row entities.TenantSession) error
	DeleteSession(ctx context.Context, tenantID string) error
	ListRestorable(ctx context.Context) ([]entities.TenantSession, error)
	EnsureSettings(ctx context.Context, tenantID, defaultPersonaID string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) SaveSession(ctx context.Context, row entities.TenantSession) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "account_id", "credential_path", "last_active_at", "logged_out_at", "updated_at"}),
	}).Create(&row).Error
	return database.Translate(err)
}

// DeleteSession removes the row for good; unlinked tenants start over.
func (r *repository) DeleteSession(ctx context.Context, tenantID string) error {
	err := r.db.WithContext(ctx).Unscoped().Where("tenant_id = ?", tenantID).Delete(&entities.TenantSession{}).Error
	return database.Translate(err)
}

func (r *repository) ListRestorable(ctx context.Context) ([]entities.TenantSession, error) {
	var rows []entities.TenantSession
	err := r.db.WithContext(ctx).Where("state <> ? AND account_id <> ''", string(StateLoggedOut)).Find(&rows).Error
	return rows, database.Translate(err)
}

// EnsureSettings seeds tenant defaults the first time a tenant connects.
func (r *repository) EnsureSettings(ctx context.Context, tenantID, defaultPersonaID string) error {
	settings := entities.TenantSettings{
		TenantID:         tenantID,
		RepliesEnabled:   true,
		DefaultPersonaID: defaultPersonaID,
	}
	err := r.db.WithContext(ctx).Where(entities.TenantSettings{TenantID: tenantID}).FirstOrCreate(&settings).Error
	return database.Translate(err)
}
