package whatsapp

import (
	"context"
	"sort"
	"strings"

	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/entities"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

type downloadFunc func(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)

// convertMessage maps a network message to chat.Message. Status updates,
// reactions and protocol messages other than disappearing-mode changes are
// skipped.
func convertMessage(evt *events.Message, download downloadFunc) (chat.Message, bool) {
	if evt == nil || evt.Message == nil || evt.Info.Chat == types.StatusBroadcastJID {
		return chat.Message{}, false
	}
	out := chat.Message{
		ExternalConversationID: evt.Info.Chat.ToNonAD().String(),
		ExternalMessageID:      evt.Info.ID,
		SenderID:               evt.Info.Sender.ToNonAD().String(),
		PushName:               evt.Info.PushName,
		FromMe:                 evt.Info.IsFromMe,
		IsGroup:                evt.Info.IsGroup,
		Timestamp:              evt.Info.Timestamp,
	}
	m := evt.Message

	if pm := m.GetProtocolMessage(); pm != nil {
		if pm.GetType() != waE2E.ProtocolMessage_EPHEMERAL_SETTING {
			return chat.Message{}, false
		}
		out.System = true
		out.Text = "Disappearing messages turned off"
		if pm.GetEphemeralExpiration() > 0 {
			out.Text = "Disappearing messages turned on"
		}
		return out, true
	}

	switch {
	case m.GetConversation() != "":
		out.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		out.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		out.Attachment = attachment(entities.AttachmentImage, img, img.GetMimetype(), "", img.GetCaption(), img.GetFileLength(), download)
	case m.GetAudioMessage() != nil:
		aud := m.GetAudioMessage()
		out.Attachment = attachment(entities.AttachmentAudio, aud, aud.GetMimetype(), "", "", aud.GetFileLength(), download)
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		name := doc.GetFileName()
		if name == "" {
			name = doc.GetTitle()
		}
		out.Attachment = attachment(entities.AttachmentDocument, doc, doc.GetMimetype(), name, doc.GetCaption(), doc.GetFileLength(), download)
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		out.Attachment = attachment(entities.AttachmentSticker, st, st.GetMimetype(), "", "", st.GetFileLength(), download)
	case m.GetVideoMessage() != nil:
		// video is not extracted; only its caption is kept
		out.Text = m.GetVideoMessage().GetCaption()
	}

	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" && out.Attachment == nil {
		return chat.Message{}, false
	}
	return out, true
}

func attachment(kind entities.AttachmentKind, src whatsmeow.DownloadableMessage, mime, name, caption string, size uint64, download downloadFunc) *chat.Attachment {
	a := &chat.Attachment{
		Kind:     kind,
		MimeType: mime,
		FileName: name,
		Caption:  strings.TrimSpace(caption),
		Size:     int64(size),
	}
	if download != nil {
		a.Fetch = func(ctx context.Context) ([]byte, error) {
			return download(ctx, src)
		}
	}
	return a
}

// convertContacts flattens the contact store into a burst ordered by address.
func convertContacts(all map[types.JID]types.ContactInfo) []chat.Contact {
	out := make([]chat.Contact, 0, len(all))
	for jid, info := range all {
		name := contactName(info)
		if name == "" {
			continue
		}
		out = append(out, chat.Contact{
			ExternalConversationID: jid.ToNonAD().String(),
			Name:                   name,
			IsGroup:                jid.Server == types.GroupServer,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalConversationID < out[j].ExternalConversationID })
	return out
}

func contactName(info types.ContactInfo) string {
	for _, name := range []string{info.FullName, info.FirstName, info.PushName, info.BusinessName} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return ""
}
