package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/domains/conversation"
	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/metrics"
	"github.com/chatbridge/pkg/realtime"
	"github.com/chatbridge/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusDuplicate Status = "duplicate"
	StatusPersisted Status = "persisted"
	StatusDropped   Status = "dropped"
)

type Result struct {
	Status         Status
	ConversationID string
	MessageID      string
}

// Accounts is the view of the live session ingestion needs.
type Accounts interface {
	AccountID(tenantID string) string
	FetchProfile(ctx context.Context, tenantID, conversationRef string) (chat.Profile, error)
}

type Extractor interface {
	Extract(ctx context.Context, tenantID string, a media.Attachment) media.Result
}

type Replier interface {
	Reply(ctx context.Context, tenantID, conversationID, triggerMessageID string) (reply.Result, error)
}

type Deps struct {
	Repo     conversation.Repository
	Accounts Accounts
	Media    Extractor
	Replier  Replier
	Echo     cache.EchoSet
	Emitter  realtime.Emitter
}

type Pipeline struct {
	deps      Deps
	cfg       config.Media
	validator *utils.CustomValidator
	log       zerolog.Logger
	wg        sync.WaitGroup
}

func NewPipeline(cfg config.Media, deps Deps, log zerolog.Logger) *Pipeline {
	if deps.Emitter == nil {
		deps.Emitter = realtime.Nop{}
	}
	return &Pipeline{
		deps:      deps,
		cfg:       cfg,
		validator: utils.NewCustomValidator(),
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest stores one inbound event at most once. Extraction and the reply run
// in the background; Wait blocks until they finish.
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, msg chat.Message) (Result, error) {
	res, err := p.ingest(ctx, tenantID, msg)
	outcome := string(res.Status)
	if err != nil {
		outcome = "error"
		if res.Status == StatusDropped {
			outcome = string(StatusDropped)
		}
	}
	metrics.InboundEvents.WithLabelValues(outcome).Inc()
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, tenantID string, msg chat.Message) (Result, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" && msg.Attachment != nil {
		msg.Text = strings.TrimSpace(msg.Attachment.Caption)
	}
	if err := p.validator.Validate(msg); err != nil {
		p.log.Debug().Err(err).Str("tenant_id", tenantID).Str("external_message_id", msg.ExternalMessageID).Msg("inbound dropped")
		return Result{Status: StatusDropped}, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	if msg.FromMe && msg.ExternalMessageID != "" && p.deps.Echo != nil {
		if echo, err := p.deps.Echo.Contains(ctx, tenantID, msg.ExternalMessageID); err == nil && echo {
			return Result{Status: StatusDuplicate}, nil
		}
	}

	accountID := p.deps.Accounts.AccountID(tenantID)
	conv, err := p.resolveConversation(ctx, tenantID, accountID, msg)
	if err != nil {
		return Result{}, err
	}

	var extID *string
	if msg.ExternalMessageID != "" {
		id := msg.ExternalMessageID
		extID = &id
		exists, err := p.deps.Repo.MessageExists(ctx, conv.ID, id)
		if err != nil {
			return Result{}, fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			return Result{Status: StatusDuplicate, ConversationID: conv.ID}, nil
		}
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	row := entities.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		TenantID:          tenantID,
		Direction:         entities.DirectionIn,
		SenderKind:        senderKind(msg),
		VisibleText:       msg.Text,
		ExternalMessageID: extID,
		CreatedAt:         time.Now(),
		ExternalTimestamp: &at,
	}
	if msg.FromMe {
		row.Direction = entities.DirectionOut
	}
	if a := msg.Attachment; a != nil {
		row.Attachment = &entities.AttachmentDescriptor{
			Kind:             a.Kind,
			MimeType:         a.MimeType,
			FileName:         a.FileName,
			SizeBytes:        a.Size,
			ExtractionStatus: entities.ExtractionPending,
		}
	}

	if err := p.deps.Repo.CreateMessage(ctx, &row); err != nil {
		if errs.IsDuplicate(err) {
			return Result{Status: StatusDuplicate, ConversationID: conv.ID}, nil
		}
		return Result{}, fmt.Errorf("insert message: %w", err)
	}

	if err := p.deps.Repo.TouchConversation(ctx, conv.ID, at, msg.ExternalMessageID); err != nil {
		p.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("touch conversation")
	}
	conv.LastMessageAt = &at
	conv.LastExternalMessageID = msg.ExternalMessageID
	p.deps.Emitter.Emit(tenantID, constant.EVENT_CONVERSATION_UPDATED, conv)
	p.deps.Emitter.Emit(tenantID, constant.EVENT_MESSAGE_CREATED, row)

	replyEligible := row.SenderKind == entities.SenderContact && !conv.IsGroup && !msg.IsGroup
	switch {
	case msg.Attachment != nil:
		p.background(ctx, func(ctx context.Context) {
			p.enrich(ctx, row, msg.Attachment)
			if replyEligible {
				p.reply(ctx, tenantID, conv.ID, row.ID)
			}
		})
	case replyEligible:
		p.background(ctx, func(ctx context.Context) {
			p.reply(ctx, tenantID, conv.ID, row.ID)
		})
	}

	return Result{Status: StatusPersisted, ConversationID: conv.ID, MessageID: row.ID}, nil
}

// Wait blocks until every background extraction and reply finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// background runs fn detached from the caller's cancellation, so a session
// closing does not abandon an extraction half way.
func (p *Pipeline) background(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("background ingest task panicked")
			}
		}()
		fn(context.WithoutCancel(ctx))
	}()
}

func senderKind(msg chat.Message) entities.SenderKind {
	switch {
	case msg.System:
		return entities.SenderSystem
	case msg.FromMe:
		return entities.SenderOwner
	}
	return entities.SenderContact
}

// resolveConversation finds the thread by its full key, then adopts a row
// stored before account ids were recorded, then creates one.
func (p *Pipeline) resolveConversation(ctx context.Context, tenantID, accountID string, msg chat.Message) (entities.Conversation, error) {
	conv, err := p.deps.Repo.FindConversation(ctx, tenantID, msg.ExternalConversationID, accountID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return entities.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}

	if accountID != "" {
		legacy, err := p.deps.Repo.FindLegacyConversation(ctx, tenantID, msg.ExternalConversationID)
		switch {
		case err == nil:
			return p.adopt(ctx, legacy, accountID)
		case !errors.Is(err, errs.ErrNotFound):
			return entities.Conversation{}, fmt.Errorf("find legacy conversation: %w", err)
		}
	}

	conv = entities.Conversation{
		ID:                     uuid.NewString(),
		TenantID:               tenantID,
		ExternalConversationID: msg.ExternalConversationID,
		ExternalAccountID:      accountID,
		IsGroup:                msg.IsGroup,
	}
	conv.DisplayName, conv.AvatarURL = p.displayName(ctx, tenantID, msg)

	if err := p.deps.Repo.CreateConversation(ctx, &conv); err != nil {
		if !errs.IsDuplicate(err) {
			return entities.Conversation{}, fmt.Errorf("create conversation: %w", err)
		}
		// lost the race to a concurrent event for the same thread
		conv, err = p.deps.Repo.FindConversation(ctx, tenantID, msg.ExternalConversationID, accountID)
		if err != nil {
			return entities.Conversation{}, fmt.Errorf("refetch conversation: %w", err)
		}
	}
	return conv, nil
}

func (p *Pipeline) adopt(ctx context.Context, legacy entities.Conversation, accountID string) (entities.Conversation, error) {
	err := p.deps.Repo.BackfillAccount(ctx, legacy.ID, accountID)
	if errs.IsDuplicate(err) {
		conv, ferr := p.deps.Repo.FindConversation(ctx, legacy.TenantID, legacy.ExternalConversationID, accountID)
		if ferr != nil {
			return entities.Conversation{}, fmt.Errorf("refetch conversation: %w", ferr)
		}
		return conv, nil
	}
	if err != nil {
		return entities.Conversation{}, fmt.Errorf("backfill account: %w", err)
	}
	p.log.Info().Str("conversation_id", legacy.ID).Str("account_id", accountID).Msg("legacy conversation adopted")
	legacy.ExternalAccountID = accountID
	return legacy, nil
}

// displayName asks the network first, then the push name on the event, then
// falls back to the raw address.
func (p *Pipeline) displayName(ctx context.Context, tenantID string, msg chat.Message) (string, string) {
	var avatar string
	profile, err := p.deps.Accounts.FetchProfile(ctx, tenantID, msg.ExternalConversationID)
	if err != nil {
		p.log.Debug().Err(err).Str("conversation", msg.ExternalConversationID).Msg("profile lookup")
	} else {
		avatar = profile.AvatarURL
		if name := strings.TrimSpace(profile.Name); name != "" {
			return name, avatar
		}
	}
	if name := strings.TrimSpace(msg.PushName); name != "" && !msg.FromMe && !msg.IsGroup {
		return name, avatar
	}
	return chat.UserPart(msg.ExternalConversationID), avatar
}

// enrich downloads the attachment, extracts its text and merges the result
// into the stored row.
func (p *Pipeline) enrich(ctx context.Context, row entities.Message, a *chat.Attachment) {
	res := p.extract(ctx, row.TenantID, a)
	if err := p.deps.Repo.UpdateExtraction(ctx, row.ID, res.ExtractedText, res.Descriptor); err != nil {
		p.log.Error().Err(err).Str("message_id", row.ID).Msg("merge extraction")
		return
	}
	row.ExtractedText = &res.ExtractedText
	row.Attachment = &res.Descriptor
	p.deps.Emitter.Emit(row.TenantID, constant.EVENT_MESSAGE_UPDATED, row)
}

func (p *Pipeline) extract(ctx context.Context, tenantID string, a *chat.Attachment) media.Result {
	unavailable := media.Unavailable(a.Kind, a.MimeType, a.FileName, a.Size)
	if a.Fetch == nil {
		return unavailable
	}

	dctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	data, err := a.Fetch(dctx)
	cancel()
	if err != nil {
		p.log.Warn().Err(err).Str("tenant_id", tenantID).Str("kind", string(a.Kind)).Msg("attachment download failed")
		return unavailable
	}

	att, err := media.New(a.Kind, media.Raw{Data: data, MimeType: a.MimeType, FileName: a.FileName})
	if err != nil {
		return unavailable
	}
	return p.deps.Media.Extract(ctx, tenantID, att)
}

func (p *Pipeline) reply(ctx context.Context, tenantID, conversationID, messageID string) {
	if p.deps.Replier == nil {
		return
	}
	res, err := p.deps.Replier.Reply(ctx, tenantID, conversationID, messageID)
	if err != nil {
		p.log.Error().Err(err).Str("tenant_id", tenantID).Str("conversation_id", conversationID).Msg("reply")
		return
	}
	p.log.Debug().Bool("sent", res.Sent).Str("provider", res.Provider).Str("conversation_id", conversationID).Msg("reply finished")
}
