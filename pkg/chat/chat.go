// Package chat holds the provider-neutral shapes exchanged with a tenant's
// network connection: inbound messages and contacts, profiles and send receipts.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/chatbridge/pkg/entities"
)

// Message is one message event as reported by the network. The same event may
// be delivered more than once.
type Message struct {
	ExternalConversationID string `validate:"required,isaddress"`
	ExternalMessageID      string
	SenderID               string
	PushName               string
	Text                   string `validate:"required_without=Attachment"`
	FromMe                 bool
	IsGroup                bool
	System                 bool
	Timestamp              time.Time
	Attachment             *Attachment
}

// Attachment is raw media metadata; the bytes are fetched lazily because
// downloads are slow and must never sit on the persistence path.
type Attachment struct {
	Kind     entities.AttachmentKind
	MimeType string
	FileName string
	Caption  string
	Size     int64
	Fetch    func(ctx context.Context) ([]byte, error)
}

// Contact is one entry of a contact-list burst.
type Contact struct {
	ExternalConversationID string
	Name                   string
	IsGroup                bool
}

// UserPart returns the local part of an external address ("123@s.net" -> "123").
func UserPart(address string) string {
	user, _, _ := strings.Cut(address, "@")
	return user
}

// Profile is what the network knows about a contact or group.
type Profile struct {
	Name      string
	AvatarURL string
}

// SendReceipt is the network acknowledgement of an outbound message.
type SendReceipt struct {
	ExternalMessageID string
	Timestamp         time.Time
}
