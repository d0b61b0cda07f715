package constant

const (
	CANT_FIND            = "%s not found"
	INVALID_REQUEST      = "Invalid request payload"
	SOMETHING_WENT_WRONG = "something went wrong"
	UNAUTHORIZED_ACCESS  = "unauthorized access"
	RATE_LIMITED         = "Too many requests, retry in %d seconds"
)
