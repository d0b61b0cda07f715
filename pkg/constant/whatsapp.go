package constant

const (
	WHATSAPP_CONNECTED     = "WhatsApp connected successfully"
	WHATSAPP_PAIRING       = "Scan this QR code with WhatsApp mobile app"
	WHATSAPP_CONNECTING    = "WhatsApp session is starting, poll the pairing code"
	WHATSAPP_UNLINKED      = "WhatsApp unlinked successfully"
	MESSAGE_SENT           = "Message sent successfully"
	STATUS_RETRIEVED       = "Status retrieved successfully"
	PAIRING_CODE_EXPIRED   = "No pending pairing code, call /connect again"
	WHATSAPP_NOT_CONNECTED = "WhatsApp client not connected"
	INVALID_PHONE_NUMBER   = "Invalid phone number format"
)

// Address servers of the network.
const (
	USER_SERVER         = "s.whatsapp.net"
	GROUP_SERVER_SUFFIX = "@g.us"
)
