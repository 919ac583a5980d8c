package usecase

import "fmt"

type ErrorCode string

const (
	// ErrorValidation: the prompt is not a plausible site request; the user
	// must resend.
	ErrorValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorTransientProvider: timeout/5xx from an external call, retried
	// locally before surfacing.
	ErrorTransientProvider ErrorCode = "TRANSIENT_PROVIDER"
	// ErrorTerminalProvider: exhausted retries or a non-retryable provider
	// response; the build is failed.
	ErrorTerminalProvider ErrorCode = "TERMINAL_PROVIDER"
	// ErrorInvalidTransition: an illegal session or build state move. Fatal to
	// the current operation; stored state is left untouched.
	ErrorInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrorDuplicateRequest: not a failure — the dedupe key already maps to a
	// build and the prior record is returned.
	ErrorDuplicateRequest ErrorCode = "DUPLICATE_REQUEST"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
