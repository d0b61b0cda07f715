package dtos

import "time"

// SendMessageDTO targets either a stored conversation or a phone number.
type SendMessageDTO struct {
	ConversationID string `json:"conversation_id" binding:"required_without=PhoneNumber"`
	PhoneNumber    string `json:"phone_number" binding:"required_without=ConversationID"`
	Message        string `json:"message" binding:"required"`
}

type ConnectDTO struct {
	State       string `json:"state"`
	AccountID   string `json:"account_id,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

type PairingCodeDTO struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type WhatsAppStatusDTO struct {
	State     string `json:"state"`
	AccountID string `json:"account_id,omitempty"`
}

type MessageResponseDTO struct {
	MessageID         string `json:"message_id"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
	ConversationID    string `json:"conversation_id"`
	Timestamp         string `json:"timestamp"`
	Status            string `json:"status"`
	To                string `json:"to"`
}

type ConversationDTO struct {
	ID                     string     `json:"id"`
	ExternalConversationID string     `json:"external_conversation_id"`
	DisplayName            string     `json:"display_name"`
	IsGroup                bool       `json:"is_group"`
	LastMessageAt          *time.Time `json:"last_message_at,omitempty"`
}
