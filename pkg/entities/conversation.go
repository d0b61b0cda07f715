package entities

import "time"

// Conversation is one thread with an external contact or group. The account id
// keeps threads apart when a tenant re-links a different external account.
type Conversation struct {
	ID                     string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID               string     `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_key,priority:1"`
	ExternalConversationID string     `json:"external_conversation_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_conversation_key,priority:2"`
	ExternalAccountID      string     `json:"external_account_id" gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_conversation_key,priority:3"`
	DisplayName            string     `json:"display_name" gorm:"type:varchar(255)"`
	AvatarURL              string     `json:"avatar_url" gorm:"type:text"`
	IsGroup                bool       `json:"is_group" gorm:"default:false"`
	AIPolicyEnabled        bool       `json:"ai_policy_enabled" gorm:"default:false"`
	PersonaID              string     `json:"persona_id" gorm:"type:varchar(64)"`
	AutoReplyDisabled      bool       `json:"auto_reply_disabled" gorm:"default:false"`
	LastMessageAt          *time.Time `json:"last_message_at" gorm:"index"`
	LastExternalMessageID  string     `json:"last_external_message_id" gorm:"type:varchar(255)"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
