// Package common defines sentinel errors shared by the circulation engine's
// repositories, services and transports. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrInvalidArgument = errors.New("invalid argument")

	// Lookup errors.
	ErrBorrowerNotFound = errors.New("borrower not found")
	ErrBookNotFound     = errors.New("book not found")
	ErrLoanNotFound     = errors.New("loan not found")

	// Checkout preconditions.
	ErrUnpaidFinesOutstanding = errors.New("borrower has unpaid fines")
	ErrMaxActiveLoansReached  = errors.New("maximum active loans reached")
	ErrBookAlreadyCheckedOut  = errors.New("book is already checked out")

	// Check-in errors.
	ErrAlreadyReturned     = errors.New("book already checked in")
	ErrInvalidCheckInBatch = errors.New("invalid check-in batch size")

	// Payment preconditions.
	ErrUnreturnedBooksBlockPayment = errors.New("cannot pay fines: one or more books are not yet returned")
	ErrNoUnpaidFines               = errors.New("no unpaid fines to pay")
)

var notFound = []error{ErrorNotFound, ErrBorrowerNotFound, ErrBookNotFound, ErrLoanNotFound}

var businessRules = []error{
	ErrUnpaidFinesOutstanding,
	ErrMaxActiveLoansReached,
	ErrBookAlreadyCheckedOut,
	ErrAlreadyReturned,
	ErrUnreturnedBooksBlockPayment,
	ErrNoUnpaidFines,
}

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return isAny(err, notFound)
}

// IsBusinessRule reports whether err is a precondition rejection that must be
// surfaced verbatim and never retried.
func IsBusinessRule(err error) bool {
	return isAny(err, businessRules)
}

// IsInvalidInput reports whether err was caused by a malformed request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidCheckInBatch)
}

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
