package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure; the API maps it to a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindQuotaExceeded
	KindRateLimited
	KindUpstream
	KindTimeout
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindTimeout:
		return "timeout"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is the single failure type surfaced by the pipeline. Message is safe
// to show to the caller; Err carries the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Messages shown to callers.
const (
	MsgAuthRequired     = "Authentication required"
	MsgUserMismatch     = "userId does not match the authenticated user"
	MsgGuestDisabled    = "Sign in to generate audio"
	MsgTextRequired     = "Text is required"
	MsgLanguageRequired = "Language is required"
	MsgRateLimited      = "Too many requests. Please wait a minute and try again."
	MsgTimeout          = "The request took too long. Please try again with shorter text."
	MsgCancelled        = "The request was cancelled"
	MsgSaveFailed       = "Failed to save the generated audio"
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// PublicMessage is the text placed in the failure envelope.
func PublicMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "Internal server error"
}
