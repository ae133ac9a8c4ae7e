// Copyright 2025 Certen Protocol
//
// Package execution provides sentinel errors for execution operations.

package execution

import "errors"

// Sentinel errors for execution operations
var (
	// ErrApplicationNotFound is returned when an operation, message, or call
	// names an application id no Registry entry answers to.
	ErrApplicationNotFound = errors.New("execution: application not found")

	// ErrReentrancyLocked is returned by try_call_application when the callee
	// (or an ancestor of the current call frame) already holds its own
	// per-application state lock: an application may not be re-entered while
	// one of its own frames is still on the call stack.
	ErrReentrancyLocked = errors.New("execution: application call would re-enter a locked frame")

	// ErrBytecodeNotFound is returned by CreateApplication when the named
	// bytecode has not been published to this validator's registry. It is
	// retryable: the caller fetches the bytecode and retries.
	ErrBytecodeNotFound = errors.New("execution: bytecode not found")

	// ErrOutOfFuel is returned once a resource controller's fuel budget is
	// exhausted mid-block.
	ErrOutOfFuel = errors.New("execution: out of fuel")

	// ErrOracleReplayExhausted is returned when replaying a block with forced
	// oracle responses and the executing code asks for more oracle responses
	// than the certificate recorded.
	ErrOracleReplayExhausted = errors.New("execution: oracle replay tape exhausted")

	// ErrQueryNotSupported is returned when a query cannot be answered.
	ErrQueryNotSupported = errors.New("execution: query not supported")
)
