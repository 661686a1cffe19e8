package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-chat-backend/internal/domain"
)

// statusError converts a non-200 response into a domain error. The status
// code decides the category; a recognised error code in the body refines it.
func statusError(status int, body []byte) *domain.APIError {
	msg := strings.TrimSpace(string(body))
	var code string
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		msg, code = apiErr.Message, apiErr.Code
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	e := domain.NewAPIError(typeForStatus(status), msg).WithStatusCode(status)
	switch code {
	case "context_length_exceeded":
		e.Type, e.Code = domain.ErrorTypeContextLength, domain.ErrorCodeContextLengthExceeded
	case "invalid_api_key":
		e.Type, e.Code = domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "model_not_found":
		e.Type, e.Code = domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	case "rate_limit_exceeded":
		e.Type, e.Code = domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	}
	return e
}

func typeForStatus(status int) domain.ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrorTypeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return domain.ErrorTypeTimeout
	case status == http.StatusServiceUnavailable:
		return domain.ErrorTypeOverloaded
	case status >= 500:
		return domain.ErrorTypeServer
	case status == http.StatusUnauthorized:
		return domain.ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return domain.ErrorTypePermission
	case status == http.StatusNotFound:
		return domain.ErrorTypeNotFound
	default:
		return domain.ErrorTypeInvalidRequest
	}
}

// transportError classifies a failure to get any response at all. A done
// request context is returned as is so callers stop instead of retrying.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrTimeout(fmt.Sprintf("request timed out: %v", err))
	}
	return domain.ErrServer(fmt.Sprintf("connection error: %v", err))
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
