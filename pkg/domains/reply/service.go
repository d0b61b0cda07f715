package reply

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/domains/conversation"
	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/metrics"
	"github.com/chatbridge/pkg/realtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProviderFallback names the fixed acknowledgement used when every completer failed.
const ProviderFallback = "fallback"

type Result struct {
	Sent      bool
	Text      string
	Provider  string
	MessageID string
}

type Service interface {
	Reply(ctx context.Context, tenantID, conversationID, triggerMessageID string) (Result, error)
	SendManual(ctx context.Context, tenantID, conversationID, text string) (entities.Message, entities.Conversation, error)
	OpenConversation(ctx context.Context, tenantID, accountID, address string) (entities.Conversation, error)
}

type Deps struct {
	Repo      conversation.Repository
	Sender    Sender
	Primary   Completer
	Secondary Completer
	Effects   SideEffectHandler
	Emitter   realtime.Emitter
}

type Orchestrator struct {
	deps Deps
	cfg  config.Reply
	log  zerolog.Logger
	// pick chooses a fallback reply index.
	pick func(n int) int
}

func NewOrchestrator(cfg config.Reply, deps Deps, log zerolog.Logger) *Orchestrator {
	if deps.Emitter == nil {
		deps.Emitter = realtime.Nop{}
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "reply").Logger(),
		pick: rand.IntN,
	}
}

// Reply answers the trigger message. Provider failures never surface as
// errors: the contact gets either a completion or a fixed acknowledgement.
// Errors are returned only for storage failures before anything was sent.
func (o *Orchestrator) Reply(ctx context.Context, tenantID, conversationID, triggerMessageID string) (Result, error) {
	conv, err := o.deps.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if conv.TenantID != tenantID {
		return Result{}, fmt.Errorf("conversation %s: %w", conversationID, errs.ErrNotFound)
	}

	settings, err := o.settings(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if !settings.RepliesEnabled || conv.AutoReplyDisabled {
		return Result{}, nil
	}

	persona, ok, err := o.persona(ctx, conv, settings)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		o.log.Warn().Str("tenant_id", tenantID).Str("conversation_id", conv.ID).Msg("no persona resolved, reply skipped")
		return Result{}, nil
	}

	trigger, err := o.deps.Repo.GetMessage(ctx, triggerMessageID)
	if err != nil {
		return Result{}, fmt.Errorf("load trigger %s: %w", triggerMessageID, err)
	}
	history, err := o.deps.Repo.RecentMessages(ctx, conv.ID, trigger.ID, o.cfg.HistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	req := Request{
		System:      systemPrompt(persona),
		Context:     turns(history),
		UserMessage: messageText(trigger),
	}
	text, provider := o.complete(ctx, req)
	text = o.applyDirective(ctx, conv, text)
	text = media.StripMarkers(text)
	if text == "" {
		text, provider = o.fallback(), ProviderFallback
	}

	receipt, err := o.deps.Sender.SendOutbound(ctx, tenantID, conv.ExternalConversationID, text)
	if err != nil {
		metrics.Replies.WithLabelValues(provider, "send_failed").Inc()
		o.log.Warn().Err(err).Str("tenant_id", tenantID).Str("conversation_id", conv.ID).Msg("reply not sent")
		return Result{Text: text, Provider: provider}, nil
	}

	msg, err := o.persistOutbound(ctx, conv, entities.SenderAutomated, text, receipt.ExternalMessageID, receipt.Timestamp)
	if err != nil {
		// The contact already has the message; only the record is missing.
		o.log.Error().Err(err).Str("tenant_id", tenantID).Str("external_message_id", receipt.ExternalMessageID).Msg("persist reply")
	}
	metrics.Replies.WithLabelValues(provider, "sent").Inc()
	return Result{Sent: true, Text: text, Provider: provider, MessageID: msg.ID}, nil
}

// SendManual sends text typed by the tenant on the dashboard and records it
// as an owner message. The echo of this send is suppressed by the session.
// The thread is returned so callers can report the external address.
func (o *Orchestrator) SendManual(ctx context.Context, tenantID, conversationID, text string) (entities.Message, entities.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.Message{}, entities.Conversation{}, fmt.Errorf("empty message: %w", errs.ErrValidation)
	}
	conv, err := o.deps.Repo.GetConversation(ctx, conversationID)
	if err != nil {
		return entities.Message{}, entities.Conversation{}, err
	}
	if conv.TenantID != tenantID {
		return entities.Message{}, entities.Conversation{}, errs.ErrNotFound
	}

	receipt, err := o.deps.Sender.SendOutbound(ctx, tenantID, conv.ExternalConversationID, text)
	if err != nil {
		return entities.Message{}, entities.Conversation{}, err
	}
	msg, err := o.persistOutbound(ctx, conv, entities.SenderOwner, text, receipt.ExternalMessageID, receipt.Timestamp)
	return msg, conv, err
}

// OpenConversation returns the thread for address under the connected
// account, creating it when the owner writes first.
func (o *Orchestrator) OpenConversation(ctx context.Context, tenantID, accountID, address string) (entities.Conversation, error) {
	conv, err := o.deps.Repo.FindConversation(ctx, tenantID, address, accountID)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		return conv, err
	}
	conv = entities.Conversation{
		ID:                     uuid.NewString(),
		TenantID:               tenantID,
		ExternalConversationID: address,
		ExternalAccountID:      accountID,
		DisplayName:            chat.UserPart(address),
		IsGroup:                strings.HasSuffix(address, constant.GROUP_SERVER_SUFFIX),
	}
	err = o.deps.Repo.CreateConversation(ctx, &conv)
	if errs.IsDuplicate(err) {
		return o.deps.Repo.FindConversation(ctx, tenantID, address, accountID)
	}
	if err != nil {
		return entities.Conversation{}, err
	}
	o.deps.Emitter.Emit(tenantID, constant.EVENT_CONVERSATION_UPDATED, conv)
	return conv, nil
}

func (o *Orchestrator) settings(ctx context.Context, tenantID string) (entities.TenantSettings, error) {
	settings, err := o.deps.Repo.GetSettings(ctx, tenantID)
	if errors.Is(err, errs.ErrNotFound) {
		return entities.TenantSettings{TenantID: tenantID, RepliesEnabled: true}, nil
	}
	if err != nil {
		return entities.TenantSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// persona resolves the conversation persona when its policy is enabled, then
// the tenant default, then the configured fallback id.
func (o *Orchestrator) persona(ctx context.Context, conv entities.Conversation, settings entities.TenantSettings) (entities.Persona, bool, error) {
	var candidates []string
	if conv.AIPolicyEnabled {
		candidates = append(candidates, conv.PersonaID)
	}
	candidates = append(candidates, settings.DefaultPersonaID, o.cfg.FallbackPersonaID)

	for _, id := range candidates {
		if id == "" {
			continue
		}
		p, err := o.deps.Repo.GetPersona(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return entities.Persona{}, false, fmt.Errorf("load persona %s: %w", id, err)
		}
		return p, true, nil
	}
	return entities.Persona{}, false, nil
}

// complete tries the primary then the secondary completer with the same
// request, and falls back to a fixed acknowledgement.
func (o *Orchestrator) complete(ctx context.Context, req Request) (string, string) {
	for _, c := range []Completer{o.deps.Primary, o.deps.Secondary} {
		if c == nil {
			continue
		}
		text, err := c.Complete(ctx, req)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, c.Name()
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		o.log.Warn().Err(err).Str("provider", c.Name()).Msg("completion failed")
		metrics.Replies.WithLabelValues(c.Name(), "provider_failed").Inc()
	}
	return o.fallback(), ProviderFallback
}

func (o *Orchestrator) fallback() string {
	return constant.FALLBACK_REPLIES[o.pick(len(constant.FALLBACK_REPLIES))]
}

// applyDirective strips a schedule directive and, when the handler accepts
// it, appends the confirmation line.
func (o *Orchestrator) applyDirective(ctx context.Context, conv entities.Conversation, text string) string {
	cleaned, d := extractDirective(text)
	if d == nil || o.deps.Effects == nil {
		return cleaned
	}
	err := o.deps.Effects.Schedule(ctx, ScheduleRequest{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		At:             d.at,
		Summary:        d.summary,
	})
	if err != nil {
		o.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("schedule side effect")
		return cleaned
	}
	confirmation := fmt.Sprintf(constant.APPOINTMENT_CONFIRMED, d.at.Format(scheduleLayout))
	if cleaned == "" {
		return confirmation
	}
	return cleaned + "\n\n" + confirmation
}

func (o *Orchestrator) persistOutbound(ctx context.Context, conv entities.Conversation, sender entities.SenderKind, text, externalID string, at time.Time) (entities.Message, error) {
	if at.IsZero() {
		at = time.Now()
	}
	msg := entities.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		TenantID:          conv.TenantID,
		Direction:         entities.DirectionOut,
		SenderKind:        sender,
		VisibleText:       text,
		ExternalMessageID: &externalID,
		CreatedAt:         time.Now(),
		ExternalTimestamp: &at,
	}
	if err := o.deps.Repo.CreateMessage(ctx, &msg); err != nil && !errs.IsDuplicate(err) {
		return entities.Message{}, err
	}
	if err := o.deps.Repo.TouchConversation(ctx, conv.ID, at, externalID); err != nil {
		o.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("touch conversation")
	}
	o.deps.Emitter.Emit(conv.TenantID, constant.EVENT_MESSAGE_CREATED, msg)
	return msg, nil
}

func systemPrompt(p entities.Persona) string {
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "You are %s.\n", p.Name)
	}
	if s := strings.TrimSpace(p.Instructions); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(constant.SCHEDULE_INSTRUCTION)
	return b.String()
}

func turns(history []entities.Message) []Turn {
	out := make([]Turn, 0, len(history))
	for _, m := range history {
		text := messageText(m)
		if text == "" {
			continue
		}
		role := RoleUser
		if m.Direction == entities.DirectionOut {
			role = RoleAssistant
		}
		out = append(out, Turn{Role: role, Text: text})
	}
	return out
}

// messageText prefers extracted text and joins it after the visible text
// when both are present.
func messageText(m entities.Message) string {
	visible := strings.TrimSpace(m.VisibleText)
	var extracted string
	if m.ExtractedText != nil {
		extracted = strings.TrimSpace(*m.ExtractedText)
	}
	switch {
	case visible != "" && extracted != "":
		return visible + "\n\n" + extracted
	case extracted != "":
		return extracted
	}
	return visible
}

var _ Service = (*Orchestrator)(nil)
