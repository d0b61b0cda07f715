package constant

// FALLBACK_REPLIES are sent when every completion provider failed.
var FALLBACK_REPLIES = []string{
	"Thanks for your message! We received it and will get back to you shortly.",
	"Hi! Your message arrived. Give us a moment and we'll reply as soon as possible.",
	"Thank you for writing. We're looking into it and will answer soon.",
}

const (
	APPOINTMENT_CONFIRMED = "Your appointment is confirmed for %s."
)

// SCHEDULE_INSTRUCTION is appended to every persona prompt so the model can
// book appointments through a directive the orchestrator strips before sending.
const SCHEDULE_INSTRUCTION = "If the contact agrees on an appointment, add a line [[schedule: YYYY-MM-DD HH:MM | short summary]] to your reply. Never mention this line."
