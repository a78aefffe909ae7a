package model

import "errors"

// Sentinel errors forming the failure taxonomy of the pipeline core.
var (
	// ErrNotFound means the run identifier is unknown.
	ErrNotFound = errors.New("run not found")

	// ErrStaleRequest means a decision targeted a run that is no longer
	// gated; the first writer already resolved it.
	ErrStaleRequest = errors.New("approval request already resolved")

	// ErrDuplicateItem means the item's external identifier was already
	// seen within the retention window. Not a failure, a normal outcome.
	ErrDuplicateItem = errors.New("duplicate item")

	// ErrSuppressed means the item matched a suppression rule
	// (automated sender, empty or link-only body).
	ErrSuppressed = errors.New("item suppressed")

	// ErrCollaboratorTimeout means an external collaborator call exceeded
	// its deadline; the calling stage applies its fallback.
	ErrCollaboratorTimeout = errors.New("collaborator timeout")

	// ErrCollaboratorFailure means an external collaborator returned an
	// error; the calling stage applies its fallback.
	ErrCollaboratorFailure = errors.New("collaborator failure")
)
