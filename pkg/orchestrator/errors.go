package orchestrator

import (
	"errors"
	"fmt"
)

// CodeMaxRetries is recorded by dead-letter callbacks when a retriable error
// survived the whole retry budget.
const CodeMaxRetries = "MAX_RETRIES_EXCEEDED"

// ErrRetriesExhausted wraps the last attempt's error once the retry budget is
// spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// terminalError marks a failure that must not be retried: record not found,
// business-rule violation, missing prerequisite. It goes straight to the
// dead-letter callback.
type terminalError struct {
	code string
	err  error
}

func (e *terminalError) Error() string {
	if e.code != "" {
		return e.code + ": " + e.err.Error()
	}
	return e.err.Error()
}

func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err as non-retriable with an error code surfaced to the
// owning record on dead-letter.
func Terminal(code string, err error) error {
	return &terminalError{code: code, err: err}
}

// Terminalf is Terminal with fmt.Errorf semantics.
func Terminalf(code, format string, args ...any) error {
	return &terminalError{code: code, err: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err (or anything it wraps) is non-retriable.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Code returns the error code of a terminal error in the chain, or "" for
// retriable errors.
func Code(err error) string {
	var te *terminalError
	if errors.As(err, &te) {
		return te.code
	}
	return ""
}
