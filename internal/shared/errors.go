package shared

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserMessenger is implemented by errors that carry text safe to show end users.
type UserMessenger interface {
	UserMessage() string
}

// UserSafeMessage converts an error into text suitable for rendering in the UI.
// Internal details such as SQL or network addresses are never exposed.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var messenger UserMessenger
	if errors.As(err, &messenger) {
		if msg := messenger.UserMessage(); msg != "" {
			return msg
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested item does not exist."
	case errors.Is(err, context.DeadlineExceeded):
		return "The operation took too long. Please try again."
	case errors.Is(err, context.Canceled):
		return "The operation was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}
