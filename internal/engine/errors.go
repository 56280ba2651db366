package engine

import "errors"

var (
	// ErrNotEligible means the actor has no validator standing for the challenge.
	ErrNotEligible = errors.New("not eligible to validate")
	// ErrAlreadyResolved means the submission or report left pending before this call won.
	ErrAlreadyResolved = errors.New("already resolved")
	// ErrDuplicatePending means the submitter already has a pending submission for the challenge.
	ErrDuplicatePending = errors.New("pending submission already exists")
	// ErrDuplicateReport means the reporter already has a pending report against the submission.
	ErrDuplicateReport = errors.New("pending report already exists")
	// ErrInvalidReason means the reason is not in the configured catalog.
	ErrInvalidReason = errors.New("invalid reason")
	// ErrInvariantViolation means a write would corrupt ledger state, e.g. a negative balance.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrSelfValidation means the submitter tried to validate their own proof.
	ErrSelfValidation = errors.New("cannot validate own submission")
	// ErrChallengeInactive means the challenge no longer accepts submissions.
	ErrChallengeInactive = errors.New("challenge inactive")
)
