package catalog

import (
	"fmt"
)

// FetchKind classifies a failed feed retrieval.
type FetchKind string

const (
	// FetchKindStatus means the server answered outside the 2xx range.
	FetchKindStatus FetchKind = "status"
	// FetchKindTimeout means the connect or read deadline expired.
	FetchKindTimeout FetchKind = "timeout"
	// FetchKindNetwork covers every other transport failure.
	FetchKindNetwork FetchKind = "network"
	// FetchKindTooLarge means the body exceeded the configured size limit.
	FetchKindTooLarge FetchKind = "too_large"
)

// FetchError reports a failed GET against a feed URL.
type FetchError struct {
	URL        string
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchKindStatus {
		return fmt.Sprintf("catalog: fetch %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("catalog: fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UserMessage describes the failure without transport details.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case FetchKindStatus:
		return fmt.Sprintf("The product feed answered with HTTP %d.", e.StatusCode)
	case FetchKindTimeout:
		return "The product feed did not respond in time."
	case FetchKindTooLarge:
		return "The product feed is too large."
	default:
		return "The product feed could not be reached."
	}
}

// DecodeError reports a feed payload that is not valid JSON or lacks a required field.
type DecodeError struct {
	URL   string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	target := e.URL
	if target == "" {
		target = "payload"
	}
	if e.Field != "" {
		return fmt.Sprintf("catalog: decode %s: field %s: %v", target, e.Field, e.Err)
	}
	return fmt.Sprintf("catalog: decode %s: %v", target, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UserMessage names the offending field when known.
func (e *DecodeError) UserMessage() string {
	if e.Field != "" {
		return fmt.Sprintf("The product feed is malformed (field %s).", e.Field)
	}
	return "The product feed is malformed."
}

// ReconcileError reports a store failure during reconciliation. The transaction is rolled back.
type ReconcileError struct {
	Op  string
	Err error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("catalog: reconcile %s: %v", e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// UserMessage reports that the sync was rolled back.
func (e *ReconcileError) UserMessage() string {
	return "Saving the feed failed. No products were changed."
}

// ValidationError reports a manual product input that failed validation.
type ValidationError struct {
	Field string
	Tag   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s failed %s", ErrInvalidProduct, e.Field, e.Tag)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidProduct
}

// UserMessage names the field in plain words.
func (e *ValidationError) UserMessage() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("Product %s is required.", e.Field)
	case "max":
		return fmt.Sprintf("Product %s is too long.", e.Field)
	default:
		return fmt.Sprintf("Product %s is invalid.", e.Field)
	}
}
