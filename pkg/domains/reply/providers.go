package reply

import (
	"context"
	"time"

	"github.com/chatbridge/pkg/chat"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of completion context.
type Turn struct {
	Role string
	Text string
}

type Request struct {
	System      string
	Context     []Turn
	UserMessage string
}

// Completer produces reply text. Failures are classified with the errs
// provider sentinels (quota, timeout, invalid key).
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Sender delivers text on the tenant's live connection and returns the
// network acknowledgement.
type Sender interface {
	SendOutbound(ctx context.Context, tenantID, conversationRef, text string) (chat.SendReceipt, error)
}

// ScheduleRequest is the side effect carried by a schedule directive.
type ScheduleRequest struct {
	TenantID       string
	ConversationID string
	At             time.Time
	Summary        string
}

type SideEffectHandler interface {
	Schedule(ctx context.Context, req ScheduleRequest) error
}
