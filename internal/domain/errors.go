package domain

import "errors"

// Sentinel errors for the verification core. Callers match with errors.Is;
// producers wrap with fmt.Errorf("...: %w", Err...) to add context.
var (
	// ErrValidation indicates malformed input. State is never mutated.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition indicates a state machine violation.
	// Transitions are forward-only and never forced.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrDuplicate indicates a uniqueness violation on create.
	// Callers may treat it as already-exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrExternalDependency indicates a provider call (AI scoring, POS data)
	// failed. The orchestrator owns retries and degradation.
	ErrExternalDependency = errors.New("external dependency failed")

	// ErrInvalidScoreRange indicates a sub-score outside [0,1]. This is a
	// caller bug and is never clamped away.
	ErrInvalidScoreRange = errors.New("score outside [0,1]")

	// ErrCountMismatch indicates verified+fake+unverified does not equal
	// the database's transaction count.
	ErrCountMismatch = errors.New("verification counts do not sum to transaction count")

	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("record not found")
)
