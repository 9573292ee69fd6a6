package storage

import "errors"

// Sentinel errors returned by the storage layer. Callers map these to API
// error codes with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateDecision is returned when an approver has already recorded
	// a decision on the escalation.
	ErrDuplicateDecision = errors.New("storage: approver already decided")

	// ErrEscalationExpired is returned when a decision arrives after the
	// escalation's deadline.
	ErrEscalationExpired = errors.New("storage: escalation expired")

	// ErrEscalationFinalized is returned when a decision arrives after the
	// escalation already reached a terminal status.
	ErrEscalationFinalized = errors.New("storage: escalation already finalized")

	// ErrRoleNotRequired is returned when the deciding actor's role is not in
	// the escalation's required approver set.
	ErrRoleNotRequired = errors.New("storage: role not in required approver set")

	// ErrInvalidTransition is returned when a payout status change violates
	// the lifecycle state machine.
	ErrInvalidTransition = errors.New("storage: invalid status transition")

	// ErrStaleState is returned when a compare-and-set update matched no row,
	// meaning a concurrent actor already moved the entity.
	ErrStaleState = errors.New("storage: state changed concurrently")
)
