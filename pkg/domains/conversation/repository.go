package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/chatbridge/pkg/database"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the durable side of conversations and messages. Misses come
// back as errs.ErrNotFound and unique violations as errs.ErrDuplicate.
type Repository interface {
	FindConversation(ctx context.Context, tenantID, externalConversationID, accountID string) (entities.Conversation, error)
	FindLegacyConversation(ctx context.Context, tenantID, externalConversationID string) (entities.Conversation, error)
	BackfillAccount(ctx context.Context, conversationID, accountID string) error
	CreateConversation(ctx context.Context, conv *entities.Conversation) error
	GetConversation(ctx context.Context, id string) (entities.Conversation, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time, externalMessageID string) error
	UpsertContact(ctx context.Context, conv entities.Conversation) error
	ListConversations(ctx context.Context, tenantID string) ([]entities.Conversation, error)

	MessageExists(ctx context.Context, conversationID, externalMessageID string) (bool, error)
	CreateMessage(ctx context.Context, msg *entities.Message) error
	GetMessage(ctx context.Context, id string) (entities.Message, error)
	UpdateExtraction(ctx context.Context, messageID string, extractedText string, desc entities.AttachmentDescriptor) error
	RecentMessages(ctx context.Context, conversationID, excludeMessageID string, limit int) ([]entities.Message, error)

	GetPersona(ctx context.Context, id string) (entities.Persona, error)
	GetSettings(ctx context.Context, tenantID string) (entities.TenantSettings, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) FindConversation(ctx context.Context, tenantID, externalConversationID, accountID string) (entities.Conversation, error) {
	var conv entities.Conversation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_conversation_id = ? AND external_account_id = ?", tenantID, externalConversationID, accountID).
		First(&conv).Error
	return conv, database.Translate(err)
}

// FindLegacyConversation returns the most recently updated row created before
// account ids were recorded.
func (r *repository) FindLegacyConversation(ctx context.Context, tenantID, externalConversationID string) (entities.Conversation, error) {
	var conv entities.Conversation
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_conversation_id = ? AND external_account_id = ''", tenantID, externalConversationID).
		Order("updated_at DESC").
		First(&conv).Error
	return conv, database.Translate(err)
}

func (r *repository) BackfillAccount(ctx context.Context, conversationID, accountID string) error {
	err := r.db.WithContext(ctx).Model(&entities.Conversation{}).
		Where("id = ? AND external_account_id = ''", conversationID).
		Update("external_account_id", accountID).Error
	return database.Translate(err)
}

func (r *repository) CreateConversation(ctx context.Context, conv *entities.Conversation) error {
	return database.Translate(r.db.WithContext(ctx).Create(conv).Error)
}

func (r *repository) GetConversation(ctx context.Context, id string) (entities.Conversation, error) {
	var conv entities.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	return conv, database.Translate(err)
}

func (r *repository) TouchConversation(ctx context.Context, conversationID string, at time.Time, externalMessageID string) error {
	updates := map[string]any{"last_message_at": at, "updated_at": time.Now()}
	if externalMessageID != "" {
		updates["last_external_message_id"] = externalMessageID
	}
	err := r.db.WithContext(ctx).Model(&entities.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error
	return database.Translate(err)
}

// UpsertContact refreshes the thread's name and avatar. A thread stored
// before account ids were recorded is adopted by the account instead of
// getting a second row next to it.
func (r *repository) UpsertContact(ctx context.Context, conv entities.Conversation) error {
	updates := map[string]any{"display_name": conv.DisplayName, "updated_at": time.Now()}
	columns := []string{"display_name", "updated_at"}
	if conv.AvatarURL != "" {
		updates["avatar_url"] = conv.AvatarURL
		columns = append(columns, "avatar_url")
	}

	refreshed, err := r.refreshContact(ctx, conv, updates)
	if err != nil || refreshed {
		return err
	}

	if conv.ExternalAccountID != "" {
		legacy, err := r.FindLegacyConversation(ctx, conv.TenantID, conv.ExternalConversationID)
		switch {
		case err == nil:
			// a concurrent ingest may have adopted it first; either way the
			// full key now exists
			if err := r.BackfillAccount(ctx, legacy.ID, conv.ExternalAccountID); err != nil && !errs.IsDuplicate(err) {
				return err
			}
			_, err = r.refreshContact(ctx, conv, updates)
			return err
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "external_conversation_id"},
			{Name: "external_account_id"},
		},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&conv).Error
	return database.Translate(err)
}

func (r *repository) refreshContact(ctx context.Context, conv entities.Conversation, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entities.Conversation{}).
		Where("tenant_id = ? AND external_conversation_id = ? AND external_account_id = ?", conv.TenantID, conv.ExternalConversationID, conv.ExternalAccountID).
		Updates(updates)
	if res.Error != nil {
		return false, database.Translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListConversations(ctx context.Context, tenantID string) ([]entities.Conversation, error) {
	var convs []entities.Conversation
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("last_message_at DESC NULLS LAST").Find(&convs).Error
	return convs, database.Translate(err)
}

func (r *repository) MessageExists(ctx context.Context, conversationID, externalMessageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Message{}).
		Where("conversation_id = ? AND external_message_id = ?", conversationID, externalMessageID).
		Count(&count).Error
	return count > 0, database.Translate(err)
}

func (r *repository) CreateMessage(ctx context.Context, msg *entities.Message) error {
	return database.Translate(r.db.WithContext(ctx).Create(msg).Error)
}

func (r *repository) GetMessage(ctx context.Context, id string) (entities.Message, error) {
	var msg entities.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	return msg, database.Translate(err)
}

func (r *repository) UpdateExtraction(ctx context.Context, messageID string, extractedText string, desc entities.AttachmentDescriptor) error {
	err := r.db.WithContext(ctx).Model(&entities.Message{ID: messageID}).
		Select("extracted_text", "attachment").
		Updates(&entities.Message{ExtractedText: &extractedText, Attachment: &desc}).Error
	return database.Translate(err)
}

// RecentMessages returns up to limit messages, oldest first.
func (r *repository) RecentMessages(ctx context.Context, conversationID, excludeMessageID string, limit int) ([]entities.Message, error) {
	var msgs []entities.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", conversationID, excludeMessageID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, database.Translate(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *repository) GetPersona(ctx context.Context, id string) (entities.Persona, error) {
	var persona entities.Persona
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&persona).Error
	return persona, database.Translate(err)
}

func (r *repository) GetSettings(ctx context.Context, tenantID string) (entities.TenantSettings, error) {
	var settings entities.TenantSettings
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error
	return settings, database.Translate(err)
}
