package lightning

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Sentinels matched by APIError.Is.
var (
	ErrNotFound     = errors.New("lightning: not found")
	ErrUnauthorized = errors.New("lightning: unauthorized")
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

// Error returns the backend message as-is so callers can surface it verbatim.
func (e *APIError) Error() string {
	return e.Message
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	default:
		return false
	}
}

func newAPIError(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := messageFromBody(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

func messageFromBody(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.Error, payload.Detail} {
			if candidate != "" {
				return candidate
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// notFound builds the error used when a lookup finds nothing.
func notFound(op, msg string) *APIError {
	return &APIError{Op: op, StatusCode: http.StatusNotFound, Message: msg}
}
