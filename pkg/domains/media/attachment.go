package media

import (
	"fmt"

	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
)

// Raw is downloaded attachment content.
type Raw struct {
	Data     []byte
	MimeType string
	FileName string
}

// Attachment is one of Audio, Image, Document or Sticker.
type Attachment interface {
	Kind() entities.AttachmentKind
	Content() Raw
	sealed()
}

type Audio struct{ Raw }
type Image struct{ Raw }
type Document struct{ Raw }
type Sticker struct{ Raw }

func (Audio) Kind() entities.AttachmentKind    { return entities.AttachmentAudio }
func (Image) Kind() entities.AttachmentKind    { return entities.AttachmentImage }
func (Document) Kind() entities.AttachmentKind { return entities.AttachmentDocument }
func (Sticker) Kind() entities.AttachmentKind  { return entities.AttachmentSticker }

func (a Audio) Content() Raw    { return a.Raw }
func (a Image) Content() Raw    { return a.Raw }
func (a Document) Content() Raw { return a.Raw }
func (a Sticker) Content() Raw  { return a.Raw }

func (Audio) sealed()    {}
func (Image) sealed()    {}
func (Document) sealed() {}
func (Sticker) sealed()  {}

// New wraps raw content in the variant for kind.
func New(kind entities.AttachmentKind, raw Raw) (Attachment, error) {
	switch kind {
	case entities.AttachmentAudio:
		return Audio{raw}, nil
	case entities.AttachmentImage:
		return Image{raw}, nil
	case entities.AttachmentDocument:
		return Document{raw}, nil
	case entities.AttachmentSticker:
		return Sticker{raw}, nil
	}
	return nil, fmt.Errorf("attachment kind %q: %w", kind, errs.ErrValidation)
}

func label(kind entities.AttachmentKind) string {
	switch kind {
	case entities.AttachmentAudio:
		return "Audio"
	case entities.AttachmentImage:
		return "Image"
	case entities.AttachmentDocument:
		return "Document"
	case entities.AttachmentSticker:
		return "Sticker"
	}
	return "Attachment"
}
