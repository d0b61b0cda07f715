package session

import (
	"context"

	"github.com/chatbridge/pkg/chat"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StatePairing         State = "pairing"
	StateConnected       State = "connected"
	StateClosing         State = "closing"
	StateLoggedOut       State = "logged_out"
)

type CloseReason string

const (
	// ReasonShutdown closes without reconnecting; credentials are kept.
	ReasonShutdown CloseReason = "shutdown"
	// ReasonTransient closes and reconnects after the fixed delay.
	ReasonTransient CloseReason = "transient"
	// ReasonRestartRequired is a transient close the network asked for; the
	// reconnect uses the shorter restart delay.
	ReasonRestartRequired CloseReason = "restart_required"
	// ReasonLoggedOut means the network revoked the device.
	ReasonLoggedOut CloseReason = "logged_out"
	// ReasonUnlink is the tenant asking to unlink. Only this reason and
	// ReasonLoggedOut purge credentials.
	ReasonUnlink CloseReason = "unlink"
)

// Event is one of StateChanged, PairingCodeIssued, MessageReceived or
// ContactsChanged.
type Event interface {
	event()
}

// StateChanged reports StateConnected (with AccountID) or StateClosing (with
// Reason). No event follows a StateClosing.
type StateChanged struct {
	State     State
	Reason    CloseReason
	AccountID string
	Err       error
}

type PairingCodeIssued struct {
	Code string
}

type MessageReceived struct {
	Message chat.Message
}

type ContactsChanged struct {
	Contacts []chat.Contact
}

func (StateChanged) event()      {}
func (PairingCodeIssued) event() {}
func (MessageReceived) event()   {}
func (ContactsChanged) event()   {}

// ConnectionProvider opens tenant connections from stored credentials, or
// starts pairing when there are none.
type ConnectionProvider interface {
	Connect(ctx context.Context, tenantID string) (Connection, error)
	// Purge deletes the tenant's credential snapshot.
	Purge(ctx context.Context, tenantID string) error
	CredentialPath(tenantID string) string
}

// Connection is one live link to the network. Errors wrap errs.ErrTransient
// or errs.ErrPermanentAuth.
type Connection interface {
	Events() <-chan Event
	Send(ctx context.Context, conversationRef, text string) (chat.SendReceipt, error)
	FetchProfile(ctx context.Context, conversationRef string) (chat.Profile, error)
	ListGroupMembers(ctx context.Context, conversationRef string) ([]string, error)
	Logout(ctx context.Context) error
	Close() error
}
