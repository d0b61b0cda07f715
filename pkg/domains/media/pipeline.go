package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result is what ingestion merges back into the message row. ExtractedText is
// always set, to a placeholder when extraction degraded.
type Result struct {
	ExtractedText string
	Descriptor    entities.AttachmentDescriptor
}

type Pipeline struct {
	stt     SpeechToText
	vision  Vision
	docs    DocumentText
	altDocs DocumentText
	store   ObjectStorage
	cfg     config.Media
	log     zerolog.Logger
}

func NewPipeline(cfg config.Media, stt SpeechToText, vision Vision, docs, altDocs DocumentText, store ObjectStorage, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		stt:     stt,
		vision:  vision,
		docs:    docs,
		altDocs: altDocs,
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "media").Logger(),
	}
}

// Extract never fails: provider errors and timeouts become placeholders.
func (p *Pipeline) Extract(ctx context.Context, tenantID string, a Attachment) Result {
	var res Result
	switch v := a.(type) {
	case Audio:
		res = p.audio(ctx, tenantID, v)
	case Image:
		res = p.image(ctx, tenantID, v.Kind(), v.Raw)
	case Document:
		res = p.document(ctx, tenantID, v)
	case Sticker:
		res = p.sticker(ctx, tenantID, v)
	default:
		res = Result{
			ExtractedText: fmt.Sprintf(constant.PLACEHOLDER_FORMAT, "Attachment"),
			Descriptor:    entities.AttachmentDescriptor{ExtractionStatus: entities.ExtractionUnsupported},
		}
	}
	res.ExtractedText = Mark(res.Descriptor.Kind, res.ExtractedText)
	metrics.Extractions.WithLabelValues(string(res.Descriptor.Kind), string(res.Descriptor.ExtractionStatus)).Inc()
	return res
}

// Unavailable is the result for an attachment whose bytes could not be fetched.
func Unavailable(kind entities.AttachmentKind, mimeType, fileName string, size int64) Result {
	return Result{
		ExtractedText: Mark(kind, fmt.Sprintf(constant.PLACEHOLDER_DOWNLOAD, label(kind))),
		Descriptor: entities.AttachmentDescriptor{
			Kind:             kind,
			MimeType:         mimeType,
			FileName:         fileName,
			SizeBytes:        size,
			ExtractionStatus: entities.ExtractionFailed,
		},
	}
}

func (p *Pipeline) audio(ctx context.Context, tenantID string, a Audio) Result {
	res := p.begin(a.Kind(), a.Raw)
	size := int64(len(a.Data))
	if size == 0 {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_EMPTY, label(a.Kind())))
	}

	res.Descriptor.StorageURL = p.upload(ctx, tenantID, a.Kind(), a.Raw)

	if size > p.cfg.MaxAudioBytes {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_TOO_LARGE, label(a.Kind()), p.cfg.MaxAudioBytes/(1024*1024)))
	}

	text, err := withTimeout(ctx, p.cfg.AudioTimeout, func(ctx context.Context) (string, error) {
		return p.stt.Transcribe(ctx, a.Data, fileNameFor(a.Kind(), a.Raw))
	})
	return p.finish(res, text, err)
}

func (p *Pipeline) image(ctx context.Context, tenantID string, kind entities.AttachmentKind, raw Raw) Result {
	res := p.begin(kind, raw)
	if len(raw.Data) == 0 {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_EMPTY, label(kind)))
	}
	res.Descriptor.StorageURL = p.upload(ctx, tenantID, kind, raw)
	return p.analyzeImage(ctx, res, raw)
}

func (p *Pipeline) sticker(ctx context.Context, tenantID string, s Sticker) Result {
	raw := s.Raw
	if normalized, err := NormalizeSticker(raw.Data); err == nil {
		raw = Raw{Data: normalized, MimeType: "image/png", FileName: raw.FileName}
	} else {
		p.log.Debug().Err(err).Str("tenant_id", tenantID).Msg("sticker normalization skipped")
	}
	res := p.begin(s.Kind(), raw)
	if len(raw.Data) == 0 {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_EMPTY, label(s.Kind())))
	}
	res.Descriptor.StorageURL = p.upload(ctx, tenantID, s.Kind(), raw)
	return p.analyzeImage(ctx, res, raw)
}

type visionOutcome struct {
	text   string
	unsafe bool
}

// analyzeImage runs safety classification then OCR under one deadline.
// Flagged content is not read.
func (p *Pipeline) analyzeImage(ctx context.Context, res Result, raw Raw) Result {
	kind := res.Descriptor.Kind
	out, err := withTimeout(ctx, p.cfg.ImageTimeout, func(ctx context.Context) (visionOutcome, error) {
		safe, err := p.vision.ClassifySafety(ctx, raw.Data, raw.MimeType)
		if err != nil {
			return visionOutcome{}, err
		}
		if !safe {
			return visionOutcome{unsafe: true}, nil
		}
		text, err := p.vision.ExtractText(ctx, raw.Data, raw.MimeType)
		return visionOutcome{text: text}, err
	})
	if err == nil && out.unsafe {
		res.Descriptor.Flagged = true
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_UNSAFE, label(kind)))
	}
	return p.finish(res, out.text, err)
}

func (p *Pipeline) document(ctx context.Context, tenantID string, d Document) Result {
	res := p.begin(d.Kind(), d.Raw)
	if len(d.Data) == 0 {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_EMPTY, label(d.Kind())))
	}
	res.Descriptor.StorageURL = p.upload(ctx, tenantID, d.Kind(), d.Raw)

	if !SupportedDocument(d.MimeType) {
		return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_FORMAT, label(d.Kind())))
	}

	text, err := withTimeout(ctx, p.cfg.DocumentTimeout, func(ctx context.Context) (string, error) {
		primary, perr := p.docs.ExtractText(ctx, d.Data, d.MimeType)
		if perr == nil && p.viable(primary) {
			return primary, nil
		}
		if p.altDocs == nil {
			return primary, perr
		}
		alt, aerr := p.altDocs.ExtractText(ctx, d.Data, d.MimeType)
		switch {
		case aerr == nil && len(strings.TrimSpace(alt)) > len(strings.TrimSpace(primary)):
			return alt, nil
		case perr == nil:
			return primary, nil
		case aerr == nil:
			return alt, nil
		}
		return "", errors.Join(perr, aerr)
	})
	return p.finish(res, text, err)
}

func (p *Pipeline) viable(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= p.cfg.MinDocumentChars
}

// SupportedDocument reports whether a document MIME type has an extractor.
func SupportedDocument(mimeType string) bool {
	mt, _, _ := mime.ParseMediaType(mimeType)
	return mt == "application/pdf" || strings.HasPrefix(mt, "text/")
}

func (p *Pipeline) begin(kind entities.AttachmentKind, raw Raw) Result {
	return Result{Descriptor: entities.AttachmentDescriptor{
		Kind:             kind,
		MimeType:         raw.MimeType,
		FileName:         raw.FileName,
		SizeBytes:        int64(len(raw.Data)),
		ExtractionStatus: entities.ExtractionPending,
	}}
}

func (p *Pipeline) finish(res Result, text string, err error) Result {
	kind := res.Descriptor.Kind
	if err != nil {
		p.log.Warn().Err(err).Str("kind", string(kind)).Msg("extraction degraded")
		if errors.Is(err, errs.ErrFormat) {
			return unsupported(res, fmt.Sprintf(constant.PLACEHOLDER_FORMAT, label(kind)))
		}
		res.Descriptor.ExtractionStatus = entities.ExtractionFailed
		res.ExtractedText = placeholder(kind, err, p.cfg.MaxAudioBytes)
		return res
	}
	if strings.TrimSpace(text) == "" {
		res.Descriptor.ExtractionStatus = entities.ExtractionFailed
		res.ExtractedText = fmt.Sprintf(constant.PLACEHOLDER_NO_TEXT, label(kind))
		return res
	}
	res.Descriptor.ExtractionStatus = entities.ExtractionOK
	res.ExtractedText = text
	return res
}

func unsupported(res Result, text string) Result {
	res.Descriptor.ExtractionStatus = entities.ExtractionUnsupported
	res.ExtractedText = text
	return res
}

func placeholder(kind entities.AttachmentKind, err error, maxBytes int64) string {
	l := label(kind)
	switch {
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf(constant.PLACEHOLDER_TIMEOUT, l)
	case errors.Is(err, errs.ErrQuota):
		return fmt.Sprintf(constant.PLACEHOLDER_QUOTA, l)
	case errors.Is(err, errs.ErrTooLarge):
		return fmt.Sprintf(constant.PLACEHOLDER_TOO_LARGE, l, maxBytes/(1024*1024))
	case errors.Is(err, errs.ErrInvalidKey):
		return fmt.Sprintf(constant.PLACEHOLDER_FAILED, l, "provider unavailable")
	}
	return fmt.Sprintf(constant.PLACEHOLDER_FAILED, l, "provider error")
}

// upload stores the bytes before any extraction runs. A failed upload is
// logged and leaves StorageURL empty; extraction still proceeds.
func (p *Pipeline) upload(ctx context.Context, tenantID string, kind entities.AttachmentKind, raw Raw) string {
	if p.store == nil {
		return ""
	}
	key := path.Join(tenantID, string(kind), time.Now().UTC().Format("2006/01/02"), uuid.NewString()+extension(raw))
	url, err := withTimeout(ctx, p.cfg.DownloadTimeout, func(ctx context.Context) (string, error) {
		return p.store.Put(ctx, key, raw.Data, raw.MimeType)
	})
	if err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Str("kind", string(kind)).Msg("attachment upload failed")
		return ""
	}
	return url
}

func extension(raw Raw) string {
	if ext := path.Ext(raw.FileName); ext != "" {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(raw.MimeType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func fileNameFor(kind entities.AttachmentKind, raw Raw) string {
	if raw.FileName != "" {
		return raw.FileName
	}
	return string(kind) + extension(raw)
}

// withTimeout runs fn in its own goroutine so a provider that ignores ctx
// still cannot hold the caller past the deadline.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, errs.Transient("extract", fmt.Errorf("%w: %w", errs.ErrTimeout, ctx.Err()))
	}
}
