// Package conversationtest provides an in-memory conversation.Repository that
// enforces the same unique keys as the database.
package conversationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatbridge/pkg/domains/conversation"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/errs"
)

type convKey struct{ tenant, external, account string }

type msgKey struct{ conversation, external string }

type Repo struct {
	mu            sync.Mutex
	conversations map[string]entities.Conversation
	convIndex     map[convKey]string
	messages      map[string]entities.Message
	msgIndex      map[msgKey]string
	order         []string
	personas      map[string]entities.Persona
	settings      map[string]entities.TenantSettings

	// Fail, when set, is consulted before every call with the method name.
	Fail func(method string) error
}

func New() *Repo {
	return &Repo{
		conversations: map[string]entities.Conversation{},
		convIndex:     map[convKey]string{},
		messages:      map[string]entities.Message{},
		msgIndex:      map[msgKey]string{},
		personas:      map[string]entities.Persona{},
		settings:      map[string]entities.TenantSettings{},
	}
}

func (r *Repo) fail(method string) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail(method)
}

func (r *Repo) PutPersona(p entities.Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p
}

func (r *Repo) PutSettings(s entities.TenantSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[s.TenantID] = s
}

// Messages returns every stored message of a conversation in insertion order.
func (r *Repo) Messages(conversationID string) []entities.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Message
	for _, id := range r.order {
		if m := r.messages[id]; m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (r *Repo) Conversations(tenantID string) []entities.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Conversation
	for _, c := range r.conversations {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Repo) FindConversation(_ context.Context, tenantID, externalConversationID, accountID string) (entities.Conversation, error) {
	if err := r.fail("FindConversation"); err != nil {
		return entities.Conversation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.convIndex[convKey{tenantID, externalConversationID, accountID}]
	if !ok {
		return entities.Conversation{}, errs.ErrNotFound
	}
	return r.conversations[id], nil
}

func (r *Repo) FindLegacyConversation(_ context.Context, tenantID, externalConversationID string) (entities.Conversation, error) {
	if err := r.fail("FindLegacyConversation"); err != nil {
		return entities.Conversation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best entities.Conversation
	found := false
	for _, c := range r.conversations {
		if c.TenantID != tenantID || c.ExternalConversationID != externalConversationID || c.ExternalAccountID != "" {
			continue
		}
		if !found || c.UpdatedAt.After(best.UpdatedAt) {
			best, found = c, true
		}
	}
	if !found {
		return entities.Conversation{}, errs.ErrNotFound
	}
	return best, nil
}

func (r *Repo) BackfillAccount(_ context.Context, conversationID, accountID string) error {
	if err := r.fail("BackfillAccount"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok || c.ExternalAccountID != "" {
		return nil
	}
	key := convKey{c.TenantID, c.ExternalConversationID, accountID}
	if _, taken := r.convIndex[key]; taken {
		return errs.ErrDuplicate
	}
	delete(r.convIndex, convKey{c.TenantID, c.ExternalConversationID, ""})
	c.ExternalAccountID = accountID
	r.conversations[c.ID] = c
	r.convIndex[key] = c.ID
	return nil
}

func (r *Repo) CreateConversation(_ context.Context, conv *entities.Conversation) error {
	if err := r.fail("CreateConversation"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := convKey{conv.TenantID, conv.ExternalConversationID, conv.ExternalAccountID}
	if _, taken := r.convIndex[key]; taken {
		return errs.ErrDuplicate
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	r.conversations[conv.ID] = *conv
	r.convIndex[key] = conv.ID
	return nil
}

func (r *Repo) GetConversation(_ context.Context, id string) (entities.Conversation, error) {
	if err := r.fail("GetConversation"); err != nil {
		return entities.Conversation{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return entities.Conversation{}, errs.ErrNotFound
	}
	return c, nil
}

func (r *Repo) TouchConversation(_ context.Context, conversationID string, at time.Time, externalMessageID string) error {
	if err := r.fail("TouchConversation"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	c.LastMessageAt = &at
	c.UpdatedAt = time.Now()
	if externalMessageID != "" {
		c.LastExternalMessageID = externalMessageID
	}
	r.conversations[c.ID] = c
	return nil
}

func (r *Repo) UpsertContact(_ context.Context, conv entities.Conversation) error {
	if err := r.fail("UpsertContact"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := convKey{conv.TenantID, conv.ExternalConversationID, conv.ExternalAccountID}
	id, ok := r.convIndex[key]
	if !ok && conv.ExternalAccountID != "" {
		legacy := convKey{conv.TenantID, conv.ExternalConversationID, ""}
		if id, ok = r.convIndex[legacy]; ok {
			delete(r.convIndex, legacy)
			r.convIndex[key] = id
			c := r.conversations[id]
			c.ExternalAccountID = conv.ExternalAccountID
			r.conversations[id] = c
		}
	}
	if ok {
		c := r.conversations[id]
		c.DisplayName = conv.DisplayName
		if conv.AvatarURL != "" {
			c.AvatarURL = conv.AvatarURL
		}
		c.UpdatedAt = time.Now()
		r.conversations[id] = c
		return nil
	}
	conv.CreatedAt, conv.UpdatedAt = time.Now(), time.Now()
	r.conversations[conv.ID] = conv
	r.convIndex[key] = conv.ID
	return nil
}

func (r *Repo) ListConversations(_ context.Context, tenantID string) ([]entities.Conversation, error) {
	if err := r.fail("ListConversations"); err != nil {
		return nil, err
	}
	return r.Conversations(tenantID), nil
}

func (r *Repo) MessageExists(_ context.Context, conversationID, externalMessageID string) (bool, error) {
	if err := r.fail("MessageExists"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.msgIndex[msgKey{conversationID, externalMessageID}]
	return ok, nil
}

func (r *Repo) CreateMessage(_ context.Context, msg *entities.Message) error {
	if err := r.fail("CreateMessage"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ExternalMessageID != nil {
		key := msgKey{msg.ConversationID, *msg.ExternalMessageID}
		if _, taken := r.msgIndex[key]; taken {
			return errs.ErrDuplicate
		}
		r.msgIndex[key] = msg.ID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.messages[msg.ID] = clone(*msg)
	r.order = append(r.order, msg.ID)
	return nil
}

func (r *Repo) GetMessage(_ context.Context, id string) (entities.Message, error) {
	if err := r.fail("GetMessage"); err != nil {
		return entities.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return entities.Message{}, errs.ErrNotFound
	}
	return clone(m), nil
}

func (r *Repo) UpdateExtraction(_ context.Context, messageID string, extractedText string, desc entities.AttachmentDescriptor) error {
	if err := r.fail("UpdateExtraction"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return errs.ErrNotFound
	}
	m.ExtractedText = &extractedText
	m.Attachment = &desc
	r.messages[messageID] = m
	return nil
}

func (r *Repo) RecentMessages(_ context.Context, conversationID, excludeMessageID string, limit int) ([]entities.Message, error) {
	if err := r.fail("RecentMessages"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.Message
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.messages[r.order[i]]
		if m.ConversationID == conversationID && m.ID != excludeMessageID {
			out = append(out, clone(m))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repo) GetPersona(_ context.Context, id string) (entities.Persona, error) {
	if err := r.fail("GetPersona"); err != nil {
		return entities.Persona{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[id]
	if !ok {
		return entities.Persona{}, errs.ErrNotFound
	}
	return p, nil
}

func (r *Repo) GetSettings(_ context.Context, tenantID string) (entities.TenantSettings, error) {
	if err := r.fail("GetSettings"); err != nil {
		return entities.TenantSettings{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[tenantID]
	if !ok {
		return entities.TenantSettings{}, errs.ErrNotFound
	}
	return s, nil
}

func clone(m entities.Message) entities.Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}

var _ conversation.Repository = (*Repo)(nil)
