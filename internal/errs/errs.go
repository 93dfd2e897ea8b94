// Package errs defines the error taxonomy shared across the rate limiting
// pipeline.
//
// Every failure that can surface from the store, the rule repository, the
// script engine, or the reload transport is wrapped into a *Error carrying
// a Kind and a Retryable flag, so callers can make fail-open/fail-closed
// decisions without string-matching error messages.
package errs

import "fmt"

// Kind classifies the origin of an Error.
type Kind string

const (
	// KindConfigMissing indicates a required configuration value was absent.
	KindConfigMissing Kind = "CONFIG_MISSING"
	// KindConfigInvalid indicates a configuration value failed validation.
	KindConfigInvalid Kind = "CONFIG_INVALID"
	// KindConnectionStore indicates the bucket store could not be reached.
	KindConnectionStore Kind = "CONNECTION_STORE"
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout Kind = "TIMEOUT"
	// KindScriptExecution indicates the bucket script failed to evaluate.
	KindScriptExecution Kind = "SCRIPT_EXECUTION"
	// KindRuleExecution indicates a rule could not be evaluated against a
	// request (malformed rule, unsupported scope, etc).
	KindRuleExecution Kind = "RULE_EXECUTION"
	// KindNotification indicates a reload transport failure.
	KindNotification Kind = "NOTIFICATION"
	// KindCircuitOpen indicates a call was rejected by an open circuit
	// breaker guarding a downstream dependency.
	KindCircuitOpen Kind = "CIRCUIT_OPEN"
)

// Error is the single error type returned across package boundaries.
//
// Retryable tells the caller whether the same operation, retried unchanged,
// has a reasonable chance of succeeding (a transient timeout) as opposed to
// one that will fail again (a malformed rule).
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped error, enabling errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the operation may succeed.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New constructs an Error.
func New(kind Kind, op string, err error, retryable bool) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Retryable: retryable}
}

// ConfigMissing wraps a missing-configuration failure. Never retryable.
func ConfigMissing(op string, err error) *Error {
	return New(KindConfigMissing, op, err, false)
}

// ConfigInvalid wraps a configuration-validation failure. Never retryable.
func ConfigInvalid(op string, err error) *Error {
	return New(KindConfigInvalid, op, err, false)
}

// ConnectionStore wraps a store-connectivity failure. Retryable.
func ConnectionStore(op string, err error) *Error {
	return New(KindConnectionStore, op, err, true)
}

// Timeout wraps a deadline-exceeded failure. Retryable.
func Timeout(op string, err error) *Error {
	return New(KindTimeout, op, err, true)
}

// ScriptExecution wraps a bucket-script evaluation failure. Not retryable
// by default, since a script error usually indicates a malformed ABI call.
func ScriptExecution(op string, err error) *Error {
	return New(KindScriptExecution, op, err, false)
}

// RuleExecution wraps a rule-evaluation failure. Never retryable.
func RuleExecution(op string, err error) *Error {
	return New(KindRuleExecution, op, err, false)
}

// Notification wraps a reload-transport failure. Retryable.
func Notification(op string, err error) *Error {
	return New(KindNotification, op, err, true)
}

// CircuitOpen wraps a rejection from an open circuit breaker. Retryable
// once the breaker's cooldown elapses.
func CircuitOpen(op string) *Error {
	return New(KindCircuitOpen, op, nil, true)
}
