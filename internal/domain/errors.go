package domain

import "fmt"

// EngineError is the unified error type for the governor.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("governor error %d: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so wrapped or
// re-messaged errors still match their sentinel with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Mutation / DNA errors (-32010 to -32039) ----

var (
	ErrDNANotFound       = &EngineError{Code: -32010, Message: "dna record not found"}
	ErrMutationFailed    = &EngineError{Code: -32011, Message: "mutation could not be applied"}
	ErrInvalidMutation   = &EngineError{Code: -32012, Message: "invalid mutation"}
	ErrOptimisticLock    = &EngineError{Code: -32015, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrDNACorrupt        = &EngineError{Code: -32016, Message: "dna record could not be decoded"}
	ErrGenerationInvalid = &EngineError{Code: -32017, Message: "generation invariant violated"}
)

// ---- Approval errors (-32040 to -32069) ----

var (
	ErrApprovalNotFound   = &EngineError{Code: -32040, Message: "approval request not found"}
	ErrApprovalNotPending = &EngineError{Code: -32041, Message: "approval request is not pending review"}
	ErrApprovalExpired    = &EngineError{Code: -32042, Message: "approval request has expired"}
	ErrInvalidTransition  = &EngineError{Code: -32043, Message: "invalid approval status transition"}
)

// ---- Rollback / Snapshot errors (-32070 to -32099) ----

var (
	ErrSnapshotNotFound = &EngineError{Code: -32070, Message: "Snapshot not found"}
	ErrSnapshotCorrupt  = &EngineError{Code: -32071, Message: "snapshot checksum mismatch"}
	ErrRecoveryFailed   = &EngineError{Code: -32072, Message: "recovery from snapshot failed"}
	ErrNoSnapshotForGen = &EngineError{Code: -32073, Message: "no snapshot recorded for generation"}
)

// ---- Guard errors (-32100 to -32129) ----

var (
	ErrBudgetExceeded    = &EngineError{Code: -32101, Message: "session mutation budget exhausted"}
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "rate limit exceeded"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
)

// ---- Healing errors (-32160 to -32189) ----

var (
	ErrNoRetryFunc      = &EngineError{Code: -32160, Message: "no retry function supplied"}
	ErrNoFallback       = &EngineError{Code: -32161, Message: "no fallback available"}
	ErrNoRestartFunc    = &EngineError{Code: -32162, Message: "no restart function supplied"}
	ErrEscalated        = &EngineError{Code: -32163, Message: "escalated to operator"}
	ErrHealingExhausted = &EngineError{Code: -32164, Message: "all healing strategies exhausted"}
	ErrStrategyPanic    = &EngineError{Code: -32165, Message: "healing strategy panicked"}
)
