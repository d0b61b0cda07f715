package reply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/domains/conversation/conversationtest"
	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	name     string
	complete func(req Request) (string, error)

	mu   sync.Mutex
	seen []Request
}

func (f *fakeCompleter) Name() string { return f.name }

func (f *fakeCompleter) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	return f.complete(req)
}

func (f *fakeCompleter) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.seen...)
}

type fakeSender struct {
	send func(text string) (chat.SendReceipt, error)
	sent []string
}

func (f *fakeSender) SendOutbound(_ context.Context, _, _, text string) (chat.SendReceipt, error) {
	f.sent = append(f.sent, text)
	if f.send != nil {
		return f.send(text)
	}
	return chat.SendReceipt{ExternalMessageID: fmt.Sprintf("OUT-%d", len(f.sent)), Timestamp: time.Now()}, nil
}

type fakeEffects struct {
	err      error
	requests []ScheduleRequest
}

func (f *fakeEffects) Schedule(_ context.Context, req ScheduleRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

func ok(text string) func(Request) (string, error) {
	return func(Request) (string, error) { return text, nil }
}

func failing(err error) func(Request) (string, error) {
	return func(Request) (string, error) { return "", err }
}

type fixture struct {
	repo      *conversationtest.Repo
	sender    *fakeSender
	primary   *fakeCompleter
	secondary *fakeCompleter
	effects   *fakeEffects
	orch      *Orchestrator
	conv      entities.Conversation
	trigger   entities.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:      conversationtest.New(),
		sender:    &fakeSender{},
		primary:   &fakeCompleter{name: "openai", complete: ok("primary answer")},
		secondary: &fakeCompleter{name: "deepseek", complete: ok("secondary answer")},
		effects:   &fakeEffects{},
	}
	f.repo.PutPersona(entities.Persona{ID: "1", Name: "Receptionist", Instructions: "Be brief."})
	f.repo.PutPersona(entities.Persona{ID: "tenant-default", Name: "Default", Instructions: "Default voice."})
	f.repo.PutPersona(entities.Persona{ID: "sales", Name: "Sales", Instructions: "Sell things."})

	f.conv = entities.Conversation{ID: "C1", TenantID: "t1", ExternalConversationID: "555@s.whatsapp.net", ExternalAccountID: "acct"}
	require.NoError(t, f.repo.CreateConversation(ctx, &f.conv))

	for i, text := range []string{"earlier question", "earlier answer"} {
		dir := entities.DirectionIn
		if i == 1 {
			dir = entities.DirectionOut
		}
		id := fmt.Sprintf("H%d", i)
		require.NoError(t, f.repo.CreateMessage(ctx, &entities.Message{
			ID: id, ConversationID: "C1", TenantID: "t1", Direction: dir, VisibleText: text, ExternalMessageID: &id,
		}))
	}
	extID := "M1"
	f.trigger = entities.Message{ID: "trigger", ConversationID: "C1", TenantID: "t1", Direction: entities.DirectionIn, SenderKind: entities.SenderContact, VisibleText: "Hello", ExternalMessageID: &extID}
	require.NoError(t, f.repo.CreateMessage(ctx, &f.trigger))

	f.orch = NewOrchestrator(config.Reply{HistoryLimit: 20, FallbackPersonaID: "1"}, Deps{
		Repo:      f.repo,
		Sender:    f.sender,
		Primary:   f.primary,
		Secondary: f.secondary,
		Effects:   f.effects,
	}, zerolog.Nop())
	f.orch.pick = func(int) int { return 0 }
	return f
}

func (f *fixture) reply(t *testing.T) Result {
	t.Helper()
	res, err := f.orch.Reply(context.Background(), "t1", "C1", "trigger")
	require.NoError(t, err)
	return res
}

func TestReplyUsesPrimaryAndPersistsAutomatedMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.reply(t)

	assert.True(t, res.Sent)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "primary answer", res.Text)
	assert.Empty(t, f.secondary.calls())

	req := f.primary.calls()[0]
	assert.Equal(t, "Hello", req.UserMessage)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "earlier question"},
		{Role: RoleAssistant, Text: "earlier answer"},
	}, req.Context)
	assert.Contains(t, req.System, "Be brief.")

	msgs := f.repo.Messages("C1")
	last := msgs[len(msgs)-1]
	assert.Equal(t, entities.DirectionOut, last.Direction)
	assert.Equal(t, entities.SenderAutomated, last.SenderKind)
	assert.Equal(t, "OUT-1", *last.ExternalMessageID)
	assert.Equal(t, res.MessageID, last.ID)
}

func TestReplyFallsBackToSecondaryWithSameRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.complete = failing(errs.ErrQuota)

	res := f.reply(t)

	require.True(t, res.Sent)
	assert.Equal(t, "deepseek", res.Provider)
	assert.Equal(t, "secondary answer", res.Text)
	require.Len(t, f.secondary.calls(), 1)
	assert.Equal(t, f.primary.calls()[0], f.secondary.calls()[0])
}

func TestReplyBothProvidersFailSendsFixedFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.complete = failing(errs.Transient("complete", errs.ErrTimeout))
	f.secondary.complete = failing(errs.ErrInvalidKey)

	res := f.reply(t)

	assert.True(t, res.Sent)
	assert.Equal(t, ProviderFallback, res.Provider)
	assert.Equal(t, constant.FALLBACK_REPLIES[0], res.Text)
	assert.Equal(t, []string{constant.FALLBACK_REPLIES[0]}, f.sender.sent)
}

func TestReplyEmptyCompletionCountsAsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.complete = ok("   ")

	res := f.reply(t)

	assert.Equal(t, "deepseek", res.Provider)
}

func TestReplyDisabled(t *testing.T) {
	t.Parallel()

	t.Run("tenant setting", func(t *testing.T) {
		f := newFixture(t)
		f.repo.PutSettings(entities.TenantSettings{TenantID: "t1", RepliesEnabled: false})
		res := f.reply(t)
		assert.False(t, res.Sent)
		assert.Empty(t, f.primary.calls())
		assert.Empty(t, f.sender.sent)
	})

	t.Run("conversation toggle", func(t *testing.T) {
		f := newFixture(t)
		conv := entities.Conversation{ID: "C2", TenantID: "t1", ExternalConversationID: "9@s", AutoReplyDisabled: true}
		require.NoError(t, f.repo.CreateConversation(context.Background(), &conv))
		res, err := f.orch.Reply(context.Background(), "t1", "C2", "trigger")
		require.NoError(t, err)
		assert.False(t, res.Sent)
		assert.Empty(t, f.sender.sent)
	})
}

func TestReplyPersonaResolutionOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    bool
		convID    string
		defaultID string
		want      string
	}{
		{name: "conversation persona when policy enabled", policy: true, convID: "sales", defaultID: "tenant-default", want: "Sell things."},
		{name: "policy disabled uses tenant default", policy: false, convID: "sales", defaultID: "tenant-default", want: "Default voice."},
		{name: "missing persona falls through", policy: true, convID: "gone", defaultID: "also-gone", want: "Be brief."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.repo.PutSettings(entities.TenantSettings{TenantID: "t1", RepliesEnabled: true, DefaultPersonaID: tt.defaultID})
			conv := entities.Conversation{ID: "CP", TenantID: "t1", ExternalConversationID: "p@s", AIPolicyEnabled: tt.policy, PersonaID: tt.convID}
			require.NoError(t, f.repo.CreateConversation(context.Background(), &conv))

			_, err := f.orch.Reply(context.Background(), "t1", "CP", "trigger")
			require.NoError(t, err)
			require.Len(t, f.primary.calls(), 1)
			assert.Contains(t, f.primary.calls()[0].System, tt.want)
		})
	}
}

func TestReplyAbortsWithoutPersona(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.orch.cfg.FallbackPersonaID = "missing"

	res := f.reply(t)

	assert.False(t, res.Sent)
	assert.Empty(t, f.primary.calls())
}

func TestReplySendFailureIsNotPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sender.send = func(string) (chat.SendReceipt, error) {
		return chat.SendReceipt{}, errs.Transient("send", errs.ErrTimeout)
	}
	before := len(f.repo.Messages("C1"))

	res := f.reply(t)

	assert.False(t, res.Sent)
	assert.Equal(t, "primary answer", res.Text)
	assert.Len(t, f.repo.Messages("C1"), before)
}

func TestReplyDuplicateOutboundIsSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sender.send = func(string) (chat.SendReceipt, error) {
		return chat.SendReceipt{ExternalMessageID: "H0"}, nil
	}

	res := f.reply(t)

	assert.True(t, res.Sent)
}

func TestReplyScheduleDirective(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.complete = ok("Great, see you then!\n[[schedule: 2026-11-02 14:30 | Haircut]]")

	res := f.reply(t)

	require.Len(t, f.effects.requests, 1)
	req := f.effects.requests[0]
	assert.Equal(t, "C1", req.ConversationID)
	assert.Equal(t, "t1", req.TenantID)
	assert.Equal(t, "Haircut", req.Summary)
	assert.Equal(t, time.Date(2026, 11, 2, 14, 30, 0, 0, time.UTC), req.At)
	assert.Equal(t, "Great, see you then!\n\n"+fmt.Sprintf(constant.APPOINTMENT_CONFIRMED, "2026-11-02 14:30"), res.Text)
}

func TestReplyScheduleFailureDropsConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.effects.err = errors.New("calendar full")
	f.primary.complete = ok("Booked! [[schedule: 2026-11-02 14:30 | Haircut]]")

	res := f.reply(t)

	assert.Equal(t, "Booked!", res.Text)
}

func TestReplyStripsMarkersAndUsesExtractedText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	extracted := media.Mark(entities.AttachmentImage, "menu: pizza 10")
	extID := "M2"
	msg := entities.Message{ID: "img", ConversationID: "C1", TenantID: "t1", Direction: entities.DirectionIn, VisibleText: "what is this?", ExtractedText: &extracted, ExternalMessageID: &extID}
	require.NoError(t, f.repo.CreateMessage(context.Background(), &msg))
	f.primary.complete = func(req Request) (string, error) {
		return "It is a menu.\n\n" + constant.MARKER_IMAGE, nil
	}

	res, err := f.orch.Reply(context.Background(), "t1", "C1", "img")
	require.NoError(t, err)

	assert.Equal(t, "It is a menu.", res.Text)
	user := f.primary.calls()[0].UserMessage
	assert.Contains(t, user, "what is this?")
	assert.Contains(t, user, "menu: pizza 10")
}

func TestReplyMissingConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.orch.Reply(context.Background(), "t1", "nope", "trigger")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.orch.Reply(context.Background(), "other-tenant", "C1", "trigger")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSendManualPersistsOwnerMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	msg, conv, err := f.orch.SendManual(context.Background(), "t1", "C1", "  on my way  ")
	require.NoError(t, err)
	assert.Equal(t, "555@s.whatsapp.net", conv.ExternalConversationID)

	assert.Equal(t, entities.SenderOwner, msg.SenderKind)
	assert.Equal(t, "on my way", msg.VisibleText)
	assert.Equal(t, []string{"on my way"}, f.sender.sent)

	_, _, err = f.orch.SendManual(context.Background(), "t1", "C1", " ")
	assert.ErrorIs(t, err, errs.ErrValidation)

	f.sender.send = func(string) (chat.SendReceipt, error) { return chat.SendReceipt{}, errs.ErrNotReady }
	_, _, err = f.orch.SendManual(context.Background(), "t1", "C1", "hi")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestExtractDirective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantText string
		wantOK   bool
	}{
		{in: "plain text", wantText: "plain text"},
		{in: "ok [[schedule: 2026-01-05 09:00 | Checkup ]]", wantText: "ok", wantOK: true},
		{in: "bad date [[schedule: 2026-13-45 99:00 | x]]", wantText: "bad date"},
	}
	for _, tt := range tests {
		text, d := extractDirective(tt.in)
		assert.Equal(t, tt.wantText, text, tt.in)
		assert.Equal(t, tt.wantOK, d != nil, tt.in)
	}
}

func TestOpenConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	existing, err := f.orch.OpenConversation(ctx, "t1", "acct", "555@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "C1", existing.ID)

	created, err := f.orch.OpenConversation(ctx, "t1", "acct", "4915112345@s.whatsapp.net")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "4915112345", created.DisplayName)
	assert.False(t, created.IsGroup)

	again, err := f.orch.OpenConversation(ctx, "t1", "acct", "4915112345@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	group, err := f.orch.OpenConversation(ctx, "t1", "acct", "120363@g.us")
	require.NoError(t, err)
	assert.True(t, group.IsGroup)
}
