package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any 401 response
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches any 403 response
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches any 404 response
	ErrNotFound = errors.New("not found")
)

// FieldError is one entry of a field-level validation list
type FieldError struct {
	Loc  []interface{} `json:"loc"`
	Msg  string        `json:"msg"`
	Type string        `json:"type"`
}

// Field returns the last element of Loc, usually the offending field name
func (f FieldError) Field() string {
	if len(f.Loc) == 0 {
		return ""
	}
	return fmt.Sprint(f.Loc[len(f.Loc)-1])
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	// Detail is set when the body carried {"detail": "<message>"}
	Detail string
	// Fields is set when the body carried {"detail": [{loc, msg, type}, ...]}
	Fields []FieldError
	Body   string
	// BodyErr is set when the body could not be read in full
	BodyErr error
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" && len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			if name := f.Field(); name != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", name, f.Msg))
			} else {
				parts = append(parts, f.Msg)
			}
		}
		msg = strings.Join(parts, "; ")
	}
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed (status %d): %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets callers use errors.Is with the status sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// NetworkError means the request never produced an HTTP response
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: failed to send request: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DetailMessage returns the human-readable detail string carried by err, or
// fallback when err is not an APIError with a string detail.
func DetailMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Body:       string(body),
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return apiErr
	}

	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		apiErr.Detail = detail
		return apiErr
	}

	var fields []FieldError
	if err := json.Unmarshal(envelope.Detail, &fields); err == nil {
		apiErr.Fields = fields
	}
	return apiErr
}
