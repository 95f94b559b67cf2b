package core

import (
	"errors"
	"fmt"
)

// Code is the stable numeric error code returned to callers of a write
// entry point. Success is CodeOK.
type Code uint32

const (
	CodeOK                Code = 0
	CodeTransferFailed    Code = 1
	CodeInvalidParameters Code = 400
	CodeNotAuthorized     Code = 401
	CodeWrongParty        Code = 403
	CodeNotFound          Code = 404
	CodeInternal          Code = 500
	CodePaused            Code = 503
)

// Error is a ledger failure carrying its numeric code.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Sentinel errors. Handlers wrap these with context via Errorf so that
// errors.Is and CodeOf keep working.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrInvalidParameters = &Error{Code: CodeInvalidParameters, Msg: "invalid parameters"}
	ErrInvalidState      = &Error{Code: CodeInvalidParameters, Msg: "invalid state"}
	ErrNotAuthorized     = &Error{Code: CodeNotAuthorized, Msg: "not authorized"}
	ErrWrongParty        = &Error{Code: CodeWrongParty, Msg: "wrong party"}
	ErrPaused            = &Error{Code: CodePaused, Msg: "contract paused"}
	ErrTransferFailed    = &Error{Code: CodeTransferFailed, Msg: "transfer failed"}
	ErrOverflow          = &Error{Code: CodeInvalidParameters, Msg: "arithmetic overflow"}

	// ErrTxIncluded rejects a transaction a committed block already carries.
	ErrTxIncluded = &Error{Code: CodeInvalidParameters, Msg: "transaction already included"}
)

// Errorf wraps sentinel with a formatted message.
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CodeOf maps err to its numeric code. Errors that carry no code (decode
// failures, storage faults) are reported as CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
