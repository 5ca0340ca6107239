package transaction

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes transaction errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates an unknown transaction or savepoint id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeNotActive indicates the transaction is no longer Active.
	ErrCodeNotActive ErrorCode = "NOT_ACTIVE"

	// ErrCodeNotTopOfStack indicates a commit of a transaction with open
	// nested transactions.
	ErrCodeNotTopOfStack ErrorCode = "NOT_TOP_OF_STACK"

	// ErrCodeMaxDepth indicates the nesting limit was reached.
	ErrCodeMaxDepth ErrorCode = "MAX_DEPTH"

	// ErrCodeApplyFailed indicates an operation could not be applied. The
	// transaction has been rolled back and marked Failed.
	ErrCodeApplyFailed ErrorCode = "APPLY_FAILED"

	// ErrCodeTimedOut indicates the transaction exceeded its timeout.
	ErrCodeTimedOut ErrorCode = "TIMED_OUT"

	// ErrCodeJournal indicates the journal refused a commit. The
	// transaction has been rolled back and marked Failed.
	ErrCodeJournal ErrorCode = "JOURNAL_FAILED"
)

// Error is returned by Processor methods.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// TransactionID identifies the affected transaction, when known.
	TransactionID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TransactionID != "" {
		msg = fmt.Sprintf("%s (tx=%s)", msg, e.TransactionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, txID string, format string, args ...any) *Error {
	return &Error{Code: code, TransactionID: txID, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of a transaction error, or "" when err is not
// one. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err reports an unknown id.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsApplyFailed returns true if an operation failed inside a transaction.
func IsApplyFailed(err error) bool {
	return CodeOf(err) == ErrCodeApplyFailed
}
