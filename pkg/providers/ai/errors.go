package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatbridge/pkg/errs"
	"github.com/sashabaranov/go-openai"
)

// classify maps client failures onto the provider sentinels. Timeouts and
// rate limits are also transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(op, fmt.Errorf("%w: %w", errs.ErrTimeout, err))
	}

	status, code := 0, ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if c, ok := apiErr.Code.(string); ok {
			code = c
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w", op, errs.ErrInvalidKey, err)
	case status == http.StatusPaymentRequired || code == "insufficient_quota":
		return fmt.Errorf("%s: %w: %w", op, errs.ErrQuota, err)
	case status == http.StatusTooManyRequests:
		return errs.Transient(op, fmt.Errorf("%w: %w", errs.ErrQuota, err))
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%s: %w: %w", op, errs.ErrTooLarge, err)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Error()), "format"):
		return fmt.Errorf("%s: %w: %w", op, errs.ErrFormat, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errs.Transient(op, fmt.Errorf("%w: %w", errs.ErrTimeout, err))
	}
	return errs.Transient(op, err)
}
