package models

import "errors"

// ErrorKind is the closed set of business outcomes an operation can fail with.
type ErrorKind string

const (
	KindNoAvailability   ErrorKind = "no_availability"
	KindTooEarly         ErrorKind = "too_early"
	KindTooLate          ErrorKind = "too_late"
	KindAlreadyCheckedIn ErrorKind = "already_checked_in"
	KindAlreadyTerminal  ErrorKind = "already_terminal"
	KindStillWaiting     ErrorKind = "still_waiting"
	KindRaceLost         ErrorKind = "race_lost"
	KindNotFound         ErrorKind = "not_found"
	KindAlreadyPaid      ErrorKind = "already_paid"
	KindNotCheckedIn     ErrorKind = "not_checked_in"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindInternal         ErrorKind = "internal"
)

// Error is a business error carrying its kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so wrapped variants compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNoAvailability   = &Error{Kind: KindNoAvailability, Message: "no tables available for the requested party"}
	ErrTooEarly         = &Error{Kind: KindTooEarly, Message: "check-in window has not opened yet"}
	ErrTooLate          = &Error{Kind: KindTooLate, Message: "check-in window has closed; reservation canceled"}
	ErrAlreadyCheckedIn = &Error{Kind: KindAlreadyCheckedIn, Message: "party is already checked in"}
	ErrAlreadyTerminal  = &Error{Kind: KindAlreadyTerminal, Message: "reservation is already closed"}
	ErrStillWaiting     = &Error{Kind: KindStillWaiting, Message: "no table is ready yet"}
	ErrRaceLost         = &Error{Kind: KindRaceLost, Message: "lost a concurrent update, try again"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "reservation not found"}
	ErrAlreadyPaid      = &Error{Kind: KindAlreadyPaid, Message: "bill is already paid"}
	ErrNotCheckedIn     = &Error{Kind: KindNotCheckedIn, Message: "party has not been seated"}
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
)

// Invalid returns an InvalidRequest error with a specific message.
func Invalid(msg string) error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// KindOf classifies err. Errors outside the enumeration are KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed later without changes.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRaceLost, KindStillWaiting:
		return true
	default:
		return false
	}
}
