package models

import "errors"

var (
	// ErrInvalidTransition is returned when a caller asks for a state
	// change that is not legal from the record's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned after the bounded retry on
	// an optimistic-concurrency conflict is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")

	ErrNotFound = errors.New("not found")
)
