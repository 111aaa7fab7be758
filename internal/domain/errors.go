package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDatesTaken         = errors.New("dates already taken")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrInvalidTransition  = errors.New("invalid step transition")
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
	ErrStaleResponse      = errors.New("stale availability response")
)

// InputError collects per-field validation messages.
type InputError struct {
	fields map[string][]string
}

func NewInputError() *InputError {
	return &InputError{fields: make(map[string][]string)}
}

func AsInputError(err error) *InputError {
	if err == nil {
		return nil
	}
	var ie *InputError
	if errors.As(err, &ie) {
		return ie
	}
	return nil
}

func (ie *InputError) Add(field, msg string) {
	ie.fields[field] = append(ie.fields[field], msg)
}

func (ie *InputError) Len() int { return len(ie.fields) }

// OrNil lets validators build an InputError unconditionally and return nil when empty.
func (ie *InputError) OrNil() error {
	if ie == nil || len(ie.fields) == 0 {
		return nil
	}
	return ie
}

func (ie *InputError) Fields() map[string][]string { return ie.fields }

func (ie *InputError) Error() string {
	keys := make([]string, 0, len(ie.fields))
	for k := range ie.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(ie.fields[k], ", "))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// AvailabilityError reports a date selection rejected by the calendar policy.
type AvailabilityError struct {
	Result ValidationResult
}

func AsAvailabilityError(err error) *AvailabilityError {
	if err == nil {
		return nil
	}
	var ae *AvailabilityError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

func (e *AvailabilityError) Error() string {
	if e.Result.Date != nil {
		return fmt.Sprintf("selection unavailable: %s on %s", e.Result.Reason, e.Result.Date)
	}
	return fmt.Sprintf("selection unavailable: %s", e.Result.Reason)
}

type RejectionKind string

const (
	RejectValidation   RejectionKind = "validation"
	RejectConflict     RejectionKind = "availability_conflict"
	RejectTransient    RejectionKind = "transient"
	RejectInFlight     RejectionKind = "in_flight"
	RejectUnclassified RejectionKind = "unclassified"
)

// RejectionError is what a SubmissionSink returns when a reservation is refused.
type RejectionError struct {
	Kind    RejectionKind
	Message string
	Fields  map[string][]string
	Reason  Reason
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reservation rejected (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("reservation rejected (%s)", e.Kind)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same draft may succeed.
func (e *RejectionError) Retryable() bool {
	return e.Kind == RejectTransient || e.Kind == RejectInFlight
}

func AsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
