package fhe

import (
	"errors"
)

var (
	// ErrInvalidState is returned when an operation is invoked before its
	// prerequisite lifecycle step (see [State]).
	ErrInvalidState = errors.New("invalid state")

	// ErrUnsupportedFeature is returned by [Context.Enable] for features the
	// engine does not provide.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrMissingEvaluationKey is returned when a multiplication or a rotation
	// is attempted without the needed evaluation keys installed.
	ErrMissingEvaluationKey = errors.New("missing evaluation key")

	// ErrDepthExhausted is returned when the multiplicative depth budget of a
	// ciphertext would be exceeded.
	ErrDepthExhausted = errors.New("multiplicative depth exhausted")

	// ErrSerialization is returned for malformed or unreadable persisted data.
	ErrSerialization = errors.New("serialization error")

	// ErrIO is returned when a file cannot be opened, created, read or written.
	ErrIO = errors.New("i/o error")

	// ErrContextMismatch is returned when keys or ciphertexts produced by one
	// Context are used with another.
	ErrContextMismatch = errors.New("context mismatch")

	// ErrInvalidArgument is returned for malformed parameters or operands.
	ErrInvalidArgument = errors.New("invalid argument")
)
