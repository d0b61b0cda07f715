package utils

import (
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv copies .env (or the given files) into the process environment
// without overriding variables that are already set. It runs before the
// config is read, so its error is logged by the caller once a logger exists.
func LoadEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

var nonDigits = regexp.MustCompile(`[^\d]`)

// NormalizePhone strips formatting so "+49 151-123" becomes "49151123".
func NormalizePhone(phoneNumber string) string {
	return nonDigits.ReplaceAllString(strings.TrimSpace(phoneNumber), "")
}
