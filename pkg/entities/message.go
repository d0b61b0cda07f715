package entities

import "time"

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type SenderKind string

const (
	SenderContact   SenderKind = "contact"
	SenderOwner     SenderKind = "owner"
	SenderAutomated SenderKind = "automated"
	SenderSystem    SenderKind = "system"
)

type AttachmentKind string

const (
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentSticker  AttachmentKind = "sticker"
)

type ExtractionStatus string

const (
	ExtractionPending     ExtractionStatus = "pending"
	ExtractionOK          ExtractionStatus = "ok"
	ExtractionFailed      ExtractionStatus = "failed"
	ExtractionUnsupported ExtractionStatus = "unsupported"
)

// AttachmentDescriptor is stored as a JSON column on the message row.
type AttachmentDescriptor struct {
	Kind             AttachmentKind   `json:"kind"`
	StorageURL       string           `json:"storage_url,omitempty"`
	MimeType         string           `json:"mime_type,omitempty"`
	FileName         string           `json:"file_name,omitempty"`
	SizeBytes        int64            `json:"size_bytes"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	Flagged          bool             `json:"flagged,omitempty"`
}

// Message is one stored message. VisibleText is what a human typed;
// ExtractedText is machine output from attachments and only feeds AI context.
// (ConversationID, ExternalMessageID) is the dedup key.
type Message struct {
	ID                string                `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConversationID    string                `json:"conversation_id" gorm:"type:varchar(36);not null;index;uniqueIndex:idx_message_dedup,priority:1"`
	TenantID          string                `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Direction         Direction             `json:"direction" gorm:"type:varchar(8);not null"`
	SenderKind        SenderKind            `json:"sender_kind" gorm:"type:varchar(16);not null"`
	VisibleText       string                `json:"visible_text" gorm:"type:text"`
	ExtractedText     *string               `json:"extracted_text" gorm:"type:text"`
	ExternalMessageID *string               `json:"external_message_id" gorm:"type:varchar(255);uniqueIndex:idx_message_dedup,priority:2"`
	Attachment        *AttachmentDescriptor `json:"attachment" gorm:"serializer:json;type:jsonb"`
	CreatedAt         time.Time             `json:"created_at" gorm:"index"`
	ExternalTimestamp *time.Time            `json:"external_timestamp"`
}
