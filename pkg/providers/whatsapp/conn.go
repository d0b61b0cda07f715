package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chatbridge/pkg/chat"
	"github.com/chatbridge/pkg/domains/session"
	"github.com/chatbridge/pkg/errs"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

const eventBuffer = 256

type conn struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	log       zerolog.Logger

	mu     sync.RWMutex
	events chan session.Event
	done   chan struct{}
	once   sync.Once
	paired atomic.Bool
	closed atomic.Bool
}

func newConn(client *whatsmeow.Client, container *sqlstore.Container, log zerolog.Logger) *conn {
	return &conn{
		client:    client,
		container: container,
		log:       log,
		events:    make(chan session.Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

func (c *conn) Events() <-chan session.Event { return c.events }

// emit blocks until the manager reads the event or the connection closes.
func (c *conn) emit(ev session.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// closing emits the final state change; nothing is delivered after it.
func (c *conn) closing(reason session.CloseReason, err error) {
	c.emit(session.StateChanged{State: session.StateClosing, Reason: reason, Err: err})
	c.closed.Store(true)
}

func (c *conn) handle(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		if c.client.Store.ID == nil {
			return
		}
		c.emit(session.StateChanged{State: session.StateConnected, AccountID: c.client.Store.ID.ToNonAD().String()})
		go c.syncContacts()
	case *events.PairSuccess:
		c.paired.Store(true)
		c.log.Info().Str("account", evt.ID.ToNonAD().String()).Msg("device paired")
	case *events.LoggedOut:
		c.closing(session.ReasonLoggedOut, fmt.Errorf("logged out: %s", evt.Reason.String()))
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			c.closing(session.ReasonLoggedOut, fmt.Errorf("connect failure: %s", evt.Reason.String()))
			return
		}
		c.closing(session.ReasonTransient, fmt.Errorf("connect failure: %s %s", evt.Reason.String(), evt.Message))
	case *events.StreamReplaced:
		c.closing(session.ReasonTransient, errors.New("stream replaced"))
	case *events.Disconnected:
		if c.paired.Load() {
			c.closing(session.ReasonRestartRequired, nil)
			return
		}
		c.closing(session.ReasonTransient, errors.New("disconnected"))
	case *events.Contact:
		name := ""
		if evt.Action != nil {
			name = evt.Action.GetFullName()
			if name == "" {
				name = evt.Action.GetFirstName()
			}
		}
		if name != "" {
			c.emit(session.ContactsChanged{Contacts: []chat.Contact{{ExternalConversationID: evt.JID.ToNonAD().String(), Name: name}}})
		}
	case *events.PushName:
		if evt.NewPushName != "" {
			c.emit(session.ContactsChanged{Contacts: []chat.Contact{{ExternalConversationID: evt.JID.ToNonAD().String(), Name: evt.NewPushName}}})
		}
	case *events.Message:
		msg, ok := convertMessage(evt, c.download)
		if ok {
			c.emit(session.MessageReceived{Message: msg})
		}
	}
}

func (c *conn) pumpQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case "code":
			c.emit(session.PairingCodeIssued{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			// a fresh pairing needs an explicit connect
			c.closing(session.ReasonShutdown, errors.New("pairing timed out"))
			return
		default:
			c.closing(session.ReasonShutdown, fmt.Errorf("pairing failed: %s: %v", item.Event, item.Error))
			return
		}
	}
}

func (c *conn) syncContacts() {
	ctx := context.Background()
	all, err := c.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("contact snapshot failed")
		return
	}
	contacts := convertContacts(all)
	if len(contacts) > 0 {
		c.emit(session.ContactsChanged{Contacts: contacts})
	}
}

func (c *conn) download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	data, err := c.client.Download(ctx, msg)
	if err != nil {
		return nil, errs.Transient("download media", err)
	}
	return data, nil
}

func (c *conn) Send(ctx context.Context, conversationRef, text string) (chat.SendReceipt, error) {
	jid, err := types.ParseJID(conversationRef)
	if err != nil {
		return chat.SendReceipt{}, fmt.Errorf("%w: recipient %q: %v", errs.ErrValidation, conversationRef, err)
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return chat.SendReceipt{}, classify("send message", err)
	}
	return chat.SendReceipt{ExternalMessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *conn) FetchProfile(ctx context.Context, conversationRef string) (chat.Profile, error) {
	jid, err := types.ParseJID(conversationRef)
	if err != nil {
		return chat.Profile{}, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	var profile chat.Profile
	if jid.Server == types.GroupServer {
		info, err := c.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return chat.Profile{}, classify("group info", err)
		}
		profile.Name = info.Name
	} else {
		contact, err := c.client.Store.Contacts.GetContact(ctx, jid)
		if err != nil {
			return chat.Profile{}, classify("contact info", err)
		}
		profile.Name = contactName(contact)
	}
	pic, err := c.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err == nil && pic != nil {
		profile.AvatarURL = pic.URL
	}
	return profile, nil
}

func (c *conn) ListGroupMembers(ctx context.Context, conversationRef string) ([]string, error) {
	jid, err := types.ParseJID(conversationRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	info, err := c.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, classify("group info", err)
	}
	members := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		members = append(members, p.JID.ToNonAD().String())
	}
	return members, nil
}

func (c *conn) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return classify("logout", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.release()
	return nil
}

func (c *conn) release() {
	c.once.Do(func() {
		close(c.done)
		c.client.Disconnect()
		c.mu.Lock()
		c.closed.Store(true)
		close(c.events)
		c.mu.Unlock()
		if err := c.container.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close device store")
		}
	})
}

func classify(op string, err error) error {
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrPermanentAuth, err)
	}
	return errs.Transient(op, err)
}

var _ session.Connection = (*conn)(nil)
