// Package kernelerr defines the sentinel error families from which every
// subsystem's returned errors are built, so callers can branch with
// errors.Is/errors.As instead of matching strings.
package kernelerr

import "errors"

// Family sentinels. Wrap these with fmt.Errorf("...: %w", kernelerr.X)
// at the call site to add context without losing errors.Is matching.
var (
	// ErrStorage covers disk-full, fsync failure, and corrupt segment
	// conditions. Fatal for writes; reads skip corrupt tails instead.
	ErrStorage = errors.New("storage error")

	// ErrStorageFull is the specific StorageError raised when Append
	// cannot durably persist an entry because the volume is full.
	ErrStorageFull = errors.New("storage full")

	// ErrDoctrineViolation covers an attempt to modify an existing
	// ledger entry, execute an unapproved irreversible action, or a
	// boot-time doctrine hash that drifted from the ledger's recorded
	// DoctrineLoaded entry.
	ErrDoctrineViolation = errors.New("doctrine violation")

	// ErrConfig covers a malformed or unreadable doctrine/runtime
	// configuration file encountered before the ledger can be trusted.
	ErrConfig = errors.New("configuration error")

	// ErrGovernanceReject covers missing capability, cap exceeded, and
	// non-whitelisted target conditions.
	ErrGovernanceReject = errors.New("governance reject")

	// ErrWorkerFailure covers non-zero exit, timeout, and unparseable
	// result conditions from a worker plugin.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrCapacityExhausted is raised when the worker pool is saturated.
	// Not an operator-facing error unless an admission deadline expires.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrNotFound covers a missing mission, task, or artifact ID.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition covers an attempted state change the state
	// machine does not permit from the current state.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNotPending covers approving/rejecting a task that is not
	// currently awaiting a decision.
	ErrNotPending = errors.New("not pending")

	// ErrUnauthorized covers an approver token that does not verify.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsCapacityExhausted reports whether err (or anything it wraps) is
// ErrCapacityExhausted.
func IsCapacityExhausted(err error) bool {
	return errors.Is(err, ErrCapacityExhausted)
}
