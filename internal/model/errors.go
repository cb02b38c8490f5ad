package model

import "errors"

// ErrorKind classifies a domain error so transports can decide how to surface it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConflict is recoverable by re-reading current state.
	KindConflict
	// KindGuard reports a client-side logic error; it is never retried.
	KindGuard
	// KindNotFound indicates a stale reference.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindGuard:
		return "guard"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// DomainError is a sentinel error carrying a stable machine-readable code.
// Compare with errors.Is against the exported values below.
type DomainError struct {
	Kind ErrorKind
	Code string
	msg  string
}

func (e *DomainError) Error() string { return e.msg }

func newDomainError(kind ErrorKind, code, msg string) *DomainError {
	return &DomainError{Kind: kind, Code: code, msg: msg}
}

var (
	// ─── Conflict ──────────────────────────────────────────────────────
	ErrAlreadyActiveAttempt = newDomainError(KindConflict, "ALREADY_ACTIVE_ATTEMPT", "an unfinished attempt already exists for this batch")
	ErrAttemptStateConflict = newDomainError(KindConflict, "ATTEMPT_STATE_CONFLICT", "attempt was modified concurrently")
	ErrBatchStateConflict   = newDomainError(KindConflict, "BATCH_STATE_CONFLICT", "batch was modified concurrently")

	// ─── Guard ─────────────────────────────────────────────────────────
	ErrAttemptNotActive      = newDomainError(KindGuard, "ATTEMPT_NOT_ACTIVE", "attempt is not active")
	ErrAttemptNotSubmittable = newDomainError(KindGuard, "ATTEMPT_NOT_SUBMITTABLE", "attempt cannot be submitted")
	ErrAttemptNotPaused      = newDomainError(KindGuard, "ATTEMPT_NOT_PAUSED", "attempt is not paused")
	ErrAttemptTerminal       = newDomainError(KindGuard, "ATTEMPT_TERMINAL", "attempt is already finished")
	ErrAttemptCompleted      = newDomainError(KindGuard, "ATTEMPT_ALREADY_COMPLETED", "actor already completed this batch")
	ErrNotEligible           = newDomainError(KindGuard, "NOT_ELIGIBLE", "actor is not eligible for this batch")
	ErrInvalidEntryToken     = newDomainError(KindGuard, "INVALID_ENTRY_TOKEN", "invalid entry token")
	ErrBatchNotOpen          = newDomainError(KindGuard, "BATCH_NOT_OPEN", "batch is not open for new attempts")
	ErrBatchFrozen           = newDomainError(KindGuard, "BATCH_FROZEN", "batch is frozen")
	ErrBatchNotFreezable     = newDomainError(KindGuard, "BATCH_NOT_FREEZABLE", "batch cannot be frozen")
	ErrBatchNotFrozen        = newDomainError(KindGuard, "BATCH_NOT_FROZEN", "batch is not frozen")
	ErrBatchFinished         = newDomainError(KindGuard, "BATCH_FINISHED", "batch is already finished")
	ErrInvalidBatchWindow    = newDomainError(KindGuard, "INVALID_BATCH_WINDOW", "batch window or duration is invalid")
	ErrNotAttemptOwner       = newDomainError(KindGuard, "NOT_ATTEMPT_OWNER", "attempt belongs to another actor")

	// ─── Not found ─────────────────────────────────────────────────────
	ErrAttemptNotFound = newDomainError(KindNotFound, "ATTEMPT_NOT_FOUND", "attempt not found")
	ErrBatchNotFound   = newDomainError(KindNotFound, "BATCH_NOT_FOUND", "batch not found")
	ErrQuizNotFound    = newDomainError(KindNotFound, "QUIZ_NOT_FOUND", "quiz not found")
)

// KindOf returns the kind of the first DomainError in err's chain.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
