package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classified login failures.
var (
	// ErrInvalidCredentials indicates the identifier/secret pair was rejected.
	ErrInvalidCredentials = errors.New("authapi: invalid credentials")

	// ErrMalformedRequest indicates the backend rejected the login payload
	// itself (validation failure).
	ErrMalformedRequest = errors.New("authapi: invalid login data")

	// ErrRateLimited indicates too many attempts; the caller should back off.
	ErrRateLimited = errors.New("authapi: rate limited")
)

// APIError is a non-2xx response that matched no sentinel classification.
// Message carries the backend-supplied text when the error body parsed, or a
// generic fallback otherwise.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authapi: backend error (HTTP %d): %s", e.Status, e.Message)
}

// errorBody covers the message shapes the backend is known to emit.
type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
}

func backendMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Message != "":
			return eb.Message
		case eb.Detail != "":
			return eb.Detail
		case eb.Error != "":
			return eb.Error
		}
	}
	return "request failed"
}

// classifyLogin maps a non-2xx login response onto the error taxonomy.
func classifyLogin(status int, body []byte) error {
	msg := backendMessage(body)
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrMalformedRequest, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return &APIError{Status: status, Message: msg}
	}
}
