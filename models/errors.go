package models

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadySharing     = errors.New("screen sharing already active")
	ErrCapturePermission  = errors.New("screen sharing permission denied")
	ErrCaptureUnavailable = errors.New("screen capture unavailable")

	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoFrame       = errors.New("no screen frame captured")
	ErrNoCredential  = errors.New("no API key configured")
	ErrQueryPending  = errors.New("a query is already in progress")
	ErrNoCandidates  = errors.New("no response generated")

	ErrCredentialRequired = errors.New("API key is required")
	ErrCredentialFormat   = errors.New(`invalid API key format. Google API keys start with "AIza"`)

	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
)

// APIError is a non-2xx answer from the inference endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// TransportError wraps a failure to reach the inference endpoint or to read a
// usable reply from it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Error kinds reported to clients in query_failed events.
const (
	QueryErrorNetwork      = "network"
	QueryErrorHTTP         = "http"
	QueryErrorNoCandidates = "no_candidates"
	QueryErrorRejected     = "rejected"
	QueryErrorInternal     = "internal"
)

// QueryErrorKind classifies a dispatch error for reporting.
func QueryErrorKind(err error) string {
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case errors.As(err, &transportErr):
		return QueryErrorNetwork
	case errors.As(err, &apiErr):
		return QueryErrorHTTP
	case errors.Is(err, ErrNoCandidates):
		return QueryErrorNoCandidates
	case errors.Is(err, ErrEmptyQuestion), errors.Is(err, ErrNoFrame),
		errors.Is(err, ErrNoCredential), errors.Is(err, ErrQueryPending):
		return QueryErrorRejected
	default:
		return QueryErrorInternal
	}
}
