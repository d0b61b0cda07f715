package utils

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

type CustomValidator struct {
	Validator *validator.Validate
}

func NewCustomValidator() *CustomValidator {
	Validator := &CustomValidator{validator.New()}
	Validator.ValidatorRegistery()
	return Validator
}

func (c *CustomValidator) ValidatorRegistery() {
	c.Validator.RegisterValidation("isaddress", c.IsValidAddress)
	c.Validator.RegisterValidation("isphone", c.IsValidPhone)
}

// Validate runs the struct tags of v.
func (c *CustomValidator) Validate(v any) error {
	return c.Validator.Struct(v)
}

// IsValidAddress accepts "user@server" network addresses.
func (c *CustomValidator) IsValidAddress(fl validator.FieldLevel) bool {
	address := strings.TrimSpace(fl.Field().String())
	user, server, ok := strings.Cut(address, "@")
	return ok && user != "" && server != "" && !strings.ContainsAny(address, " \t\n")
}

// IsValidPhone accepts international numbers with an optional leading '+'.
func (c *CustomValidator) IsValidPhone(fl validator.FieldLevel) bool {
	phoneNumber := strings.TrimPrefix(strings.TrimSpace(fl.Field().String()), "+")
	if len(phoneNumber) < 10 || len(phoneNumber) > 15 {
		return false
	}
	for _, char := range phoneNumber {
		if !unicode.IsDigit(char) {
			return false
		}
	}
	return true
}
