package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized is matched by any *APIError carrying HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	// Message is the server-provided structured message, if any.
	Message string
	// Errors is the server-provided structured error list, if any.
	Errors []string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	case len(e.Errors) > 0:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
	default:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type errorBody struct {
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Errors  []json.RawMessage `json:"errors"`
}

func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return apiErr
	}

	apiErr.Message = eb.Message
	if apiErr.Message == "" {
		apiErr.Message = eb.Error
	}

	for _, raw := range eb.Errors {
		if msg := errorEntry(raw); msg != "" {
			apiErr.Errors = append(apiErr.Errors, msg)
		}
	}

	return apiErr
}

// errorEntry flattens one element of an "errors" array, which the API sends
// either as a plain string or as {field, message} / {msg} objects.
func errorEntry(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Field   string `json:"field"`
		Path    string `json:"path"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}

	msg := obj.Message
	if msg == "" {
		msg = obj.Msg
	}
	field := obj.Field
	if field == "" {
		field = obj.Path
	}
	if field != "" && msg != "" {
		return field + ": " + msg
	}
	return msg
}

// MessageFor derives the human-readable message for a failed action: the
// server message, else the server error list joined into one string, else
// a generic fallback naming the action.
func MessageFor(err error, action string) string {
	if msg, ok := ServerMessage(err); ok {
		return msg
	}
	return "Failed to " + action
}

// ServerMessage returns the message the server attached to err, if any.
func ServerMessage(err error) (string, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if apiErr.Message != "" {
		return apiErr.Message, true
	}
	if len(apiErr.Errors) > 0 {
		return strings.Join(apiErr.Errors, "; "), true
	}
	return "", false
}
