package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/domains/conversation/conversationtest"
	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/domains/session"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
	"github.com/chatbridge/pkg/realtime"
	"github.com/chatbridge/pkg/state"
	"github.com/chatbridge/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	session.Service

	accountID string
	pending   *cache.PendingPairing
	acquired  []string
	teardowns []session.CloseReason
}

func (f *fakeSessions) AcquireSession(_ context.Context, tenantID string) (*session.Session, error) {
	f.acquired = append(f.acquired, tenantID)
	return &session.Session{TenantID: tenantID}, nil
}

func (f *fakeSessions) Teardown(_ context.Context, _ string, reason session.CloseReason) error {
	f.teardowns = append(f.teardowns, reason)
	return nil
}

func (f *fakeSessions) AccountID(string) string { return f.accountID }

func (f *fakeSessions) State(string) session.State {
	if f.accountID != "" {
		return session.StateConnected
	}
	return session.StateUnauthenticated
}

func (f *fakeSessions) PairingCode(context.Context, string) (cache.PendingPairing, bool, error) {
	if f.pending == nil {
		return cache.PendingPairing{}, false, nil
	}
	return *f.pending, true, nil
}

type fakeReplies struct {
	repo    *conversationtest.Repo
	sendErr error
	opened  []string
	sent    []string
}

func (f *fakeReplies) Reply(context.Context, string, string, string) (reply.Result, error) {
	return reply.Result{}, nil
}

func (f *fakeReplies) OpenConversation(ctx context.Context, tenantID, accountID, address string) (entities.Conversation, error) {
	f.opened = append(f.opened, address)
	conv := entities.Conversation{ID: "conv-" + address, TenantID: tenantID, ExternalConversationID: address, ExternalAccountID: accountID}
	return conv, f.repo.CreateConversation(ctx, &conv)
}

func (f *fakeReplies) SendManual(ctx context.Context, tenantID, conversationID, text string) (entities.Message, entities.Conversation, error) {
	if f.sendErr != nil {
		return entities.Message{}, entities.Conversation{}, f.sendErr
	}
	conv, err := f.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return entities.Message{}, entities.Conversation{}, err
	}
	f.sent = append(f.sent, conversationID+":"+text)
	ext := "OUT-1"
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return entities.Message{ID: "m1", ConversationID: conversationID, TenantID: tenantID, ExternalMessageID: &ext, ExternalTimestamp: &at}, conv, nil
}

type harness struct {
	router   *gin.Engine
	sessions *fakeSessions
	replies  *fakeReplies
	repo     *conversationtest.Repo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{sessions: &fakeSessions{}, repo: conversationtest.New()}
	h.replies = &fakeReplies{repo: h.repo}

	h.router = gin.New()
	auth := func(c *gin.Context) {
		c.Set(state.CurrentTenantID, "t1")
		c.Next()
	}
	pass := func(c *gin.Context) { c.Next() }
	WhatsAppRoutes(h.router.Group("/api/v1/whatsapp"), WhatsAppDeps{
		Sessions:      h.sessions,
		Replies:       h.replies,
		Conversations: h.repo,
		Hub:           realtime.NewHub(zerolog.Nop()),
		Validator:     utils.NewCustomValidator(),
	}, auth, pass)
	return h
}

func (h *harness) do(method, path, body string) (int, map[string]any) {
	req := httptest.NewRequest(method, "/api/v1/whatsapp"+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestConnectAcquiresSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/connect", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, []string{"t1"}, h.sessions.acquired)
	assert.NotEmpty(t, body["message"])
}

func TestPairingCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, _ := h.do(http.MethodGet, "/pairing-code", "")
	assert.Equal(t, 404, code)

	h.sessions.pending = &cache.PendingPairing{TenantID: "t1", Code: "2@abc", ExpiresAt: time.Now().Add(time.Minute)}
	code, body := h.do(http.MethodGet, "/pairing-code", "")
	require.Equal(t, 200, code)
	assert.Equal(t, "2@abc", body["data"].(map[string]any)["code"])
}

func TestStatusAndUnlink(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sessions.accountID = "4915100000@s.whatsapp.net"

	code, body := h.do(http.MethodGet, "/status", "")
	require.Equal(t, 200, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "connected", data["state"])
	assert.Equal(t, "4915100000@s.whatsapp.net", data["account_id"])

	code, _ = h.do(http.MethodPost, "/unlink", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, []session.CloseReason{session.ReasonUnlink}, h.sessions.teardowns)
}

func TestSendMessageByConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.repo.CreateConversation(context.Background(), &entities.Conversation{ID: "C1", TenantID: "t1", ExternalConversationID: "5511999@s.whatsapp.net"}))

	code, body := h.do(http.MethodPost, "/send-message", `{"conversation_id":"C1","message":"hi"}`)
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"C1:hi"}, h.replies.sent)
	data := body["data"].(map[string]any)
	assert.Equal(t, "5511999@s.whatsapp.net", data["to"], "the external address, not the thread id")
	assert.Equal(t, "OUT-1", data["external_message_id"])
	assert.Equal(t, "2025-03-01T10:00:00Z", data["timestamp"])
}

func TestSendMessageByPhone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	code, _ := h.do(http.MethodPost, "/send-message", `{"phone_number":"+49 151 1234 5678","message":"hi"}`)
	assert.Equal(t, 400, code, "spaces fail the phone check")

	code, _ = h.do(http.MethodPost, "/send-message", `{"phone_number":"+4915112345678","message":"hi"}`)
	assert.Equal(t, 409, code, "no linked account")

	h.sessions.accountID = "acct"
	code, _ = h.do(http.MethodPost, "/send-message", `{"phone_number":"+4915112345678","message":"hi"}`)
	require.Equal(t, 200, code)
	assert.Equal(t, []string{"4915112345678@s.whatsapp.net"}, h.replies.opened)
	assert.Equal(t, []string{"conv-4915112345678@s.whatsapp.net:hi"}, h.replies.sent)

	code, _ = h.do(http.MethodPost, "/send-message", `{"message":"hi"}`)
	assert.Equal(t, 400, code, "needs a target")
}

func TestSendMessageErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("send: %w", errs.ErrNotReady), 409},
		{errs.Transient("send", fmt.Errorf("%w", errs.ErrTimeout)), 503},
		{fmt.Errorf("empty: %w", errs.ErrValidation), 400},
		{errs.ErrNotFound, 404},
		{&errs.RateLimitError{RetryAfterSeconds: 3}, 429},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.replies.sendErr = tc.err
		code, _ := h.do(http.MethodPost, "/send-message", `{"conversation_id":"C1","message":"hi"}`)
		assert.Equal(t, tc.want, code, tc.err.Error())
	}
}

func TestListConversations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.repo.CreateConversation(context.Background(), &entities.Conversation{ID: "C1", TenantID: "t1", ExternalConversationID: "1@s.whatsapp.net", DisplayName: "Ana"}))
	require.NoError(t, h.repo.CreateConversation(context.Background(), &entities.Conversation{ID: "C2", TenantID: "t2", ExternalConversationID: "2@s.whatsapp.net"}))

	code, body := h.do(http.MethodGet, "/conversations", "")
	require.Equal(t, 200, code)
	list := body["conversations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].(map[string]any)["display_name"])
}
