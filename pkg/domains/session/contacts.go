package session

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/constant"
	"github.com/chatbridge/pkg/entities"
	"github.com/chatbridge/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// syncContacts resolves names for a contact burst on a fixed-width pool and
// upserts only contacts that end up with a non-empty name.
func (m *Manager) syncContacts(ctx context.Context, s *Session, contacts []chat.Contact) {
	if m.deps.Contacts == nil || len(contacts) == 0 {
		return
	}
	accountID := s.AccountID()

	var g errgroup.Group
	g.SetLimit(m.cfg.ContactSyncWidth)
	var written atomic.Int64

	for _, c := range contacts {
		g.Go(func() error {
			name := strings.TrimSpace(c.Name)
			var avatar string
			if name == "" {
				profile, err := m.lookupProfile(ctx, s, c.ExternalConversationID)
				if err != nil {
					m.log.Debug().Err(err).Str("tenant_id", s.TenantID).Str("conversation", c.ExternalConversationID).Msg("profile lookup")
					return nil
				}
				name, avatar = strings.TrimSpace(profile.Name), profile.AvatarURL
			}
			if name == "" {
				return nil
			}

			conv := entities.Conversation{
				ID:                     uuid.NewString(),
				TenantID:               s.TenantID,
				ExternalConversationID: c.ExternalConversationID,
				ExternalAccountID:      accountID,
				DisplayName:            name,
				AvatarURL:              avatar,
				IsGroup:                c.IsGroup,
			}
			if err := m.deps.Contacts.UpsertContact(ctx, conv); err != nil {
				m.log.Warn().Err(err).Str("tenant_id", s.TenantID).Str("conversation", c.ExternalConversationID).Msg("upsert contact")
				return nil
			}
			written.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	m.log.Info().Str("tenant_id", s.TenantID).Int("received", len(contacts)).Int64("written", written.Load()).Msg("contacts synced")
	if written.Load() > 0 {
		m.deps.Emitter.Emit(s.TenantID, constant.EVENT_CONTACTS_SYNCED, map[string]int64{"count": written.Load()})
	}
}

func (m *Manager) lookupProfile(ctx context.Context, s *Session, ref string) (chat.Profile, error) {
	metrics.ContactLookupsInFlight.Inc()
	defer metrics.ContactLookupsInFlight.Dec()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProfileLookupTimeout)
	defer cancel()
	return s.conn.FetchProfile(ctx, ref)
}
