package constant

// Realtime event names emitted to the tenant's dashboard.
const (
	EVENT_PAIRING_CODE         = "pairing-code"
	EVENT_READY                = "ready"
	EVENT_DISCONNECTED         = "whatsapp-disconnected"
	EVENT_SESSION_CLOSED       = "session-closed"
	EVENT_CLEAR_CHATS          = "clear-chats"
	EVENT_CONVERSATION_UPDATED = "conversation-updated"
	EVENT_MESSAGE_CREATED      = "message-created"
	EVENT_MESSAGE_UPDATED      = "message-updated"
	EVENT_CONTACTS_SYNCED      = "contacts-synced"
)

// Close reasons carried by session-closed / whatsapp-disconnected.
const (
	REASON_LOGGED_OUT        = "logged_out"
	REASON_CONNECTION_CLOSED = "connection_closed"
	REASON_SHUTDOWN          = "shutdown"
)
