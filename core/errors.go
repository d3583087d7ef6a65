package core

import "errors"

// Sentinel errors classifying every precondition failure the engine can
// produce. Handlers wrap these with fmt.Errorf("...: %w", Err...) so the
// RPC layer can map them to stable error codes with errors.Is.
var (
	// ErrNotFound: the referenced canvas, pixel index, or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: the operation is not valid for the canvas' current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized: the caller lacks the required role (owner, seller,
	// platform owner).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientValue: the attached amount is below the required threshold.
	ErrInsufficientValue = errors.New("insufficient value")

	// ErrAlreadySettled: a withdrawal or claim that has nothing left to pay.
	ErrAlreadySettled = errors.New("already settled")

	// ErrCapacityExceeded: the active-canvas ceiling has been reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
