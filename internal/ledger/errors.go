package ledger

import "errors"

// Sentinel errors for the failure modes the ledger distinguishes.
// Callers test with errors.Is.
var (
	// ErrContentUnavailable marks a candidate whose content could not be
	// read at submission time. The candidate is dropped; the detector may
	// retry on its own schedule.
	ErrContentUnavailable = errors.New("content unavailable")

	// ErrWriteConflict marks a per-path version id allocation collision.
	// The store retries once internally; callers only see this if the
	// retry also failed.
	ErrWriteConflict = errors.New("version id allocation conflict")

	// ErrSchemaMismatch marks a migration precondition that failed
	// mid-transform. The migration rolls back; startup must treat this
	// as fatal.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrStopped is returned by Submit calls after the coordinator has
	// been stopped.
	ErrStopped = errors.New("coordinator stopped")
)

// SuppressReason explains why a candidate did not produce a version.
// Suppression is a deliberate, logged no-op outcome, not an error.
type SuppressReason string

const (
	// ReasonNoOp: the candidate's content hash equals the latest
	// version's hash for the path.
	ReasonNoOp SuppressReason = "no-op"

	// ReasonSuperseded: a later candidate for the same path arrived
	// within the debounce window and replaced this one.
	ReasonSuperseded SuppressReason = "superseded"

	// ReasonNoPriorVersion: a delete candidate for a path that has no
	// recorded versions.
	ReasonNoPriorVersion SuppressReason = "no prior version"

	// ReasonQueueFull: the candidate queue was at capacity and the
	// candidate was dropped.
	ReasonQueueFull SuppressReason = "queue full"
)
