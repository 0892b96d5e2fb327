package database

import (
	"errors"
	"fmt"
)

// RejectCode classifies why a transaction was refused. Rejections are
// recoverable: the caller gets the code plus free text detail and all
// chain and pool state is left exactly as it was before the call.
type RejectCode string

// Set of reject codes a transaction can fail with.
const (
	RejectMalformed         RejectCode = "malformed"
	RejectOutOfRange        RejectCode = "out-of-range"
	RejectDuplicateInput    RejectCode = "duplicate-input"
	RejectMissingOrSpent    RejectCode = "missing-or-spent-input"
	RejectPrematureSpend    RejectCode = "premature-spend"
	RejectNonFinal          RejectCode = "non-final"
	RejectAlreadyKnown      RejectCode = "already-known"
	RejectAncestorLimit     RejectCode = "ancestor-limit-exceeded"
	RejectDescendantLimit   RejectCode = "descendant-limit-exceeded"
	RejectInvalidConversion RejectCode = "invalid-conversion"
	RejectExpiredConversion RejectCode = "expired-conversion"
	RejectInsufficientFee   RejectCode = "insufficient-fee"
	RejectPoolFull          RejectCode = "pool-full"
)

// RejectError is the error returned for any refused transaction.
type RejectError struct {
	Code   RejectCode
	Reason string
}

// Rejectf constructs a RejectError with formatted detail.
func Rejectf(code RejectCode, format string, args ...any) *RejectError {
	return &RejectError{
		Code:   code,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (re *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", re.Code, re.Reason)
}

// ErrorCode extracts the reject code from the specified error. The second
// return reports whether the error was a rejection at all.
func ErrorCode(err error) (RejectCode, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code, true
	}

	return "", false
}
