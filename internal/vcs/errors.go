package vcs

import "errors"

// Common errors returned by history store operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrRefExists) {
//	    // branch is already there
//	}
var (
	// ErrNotInVCS is returned when a path is not inside a repository.
	ErrNotInVCS = errors.New("not in a repository")

	// ErrStoreInit is returned when a store cannot be created, including
	// when the target path is already occupied.
	ErrStoreInit = errors.New("cannot initialize store")

	// ErrRefExists is returned when attempting to create a branch
	// that already exists.
	ErrRefExists = errors.New("reference already exists")

	// ErrRefNotFound is returned when attempting to operate on
	// a branch or commit that doesn't exist.
	ErrRefNotFound = errors.New("reference not found")

	// ErrProtectedRef is returned for any attempt to create or delete
	// the main branch.
	ErrProtectedRef = errors.New("main branch is protected")

	// ErrDetached is returned when an operation requires being on
	// a branch but HEAD is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrHashMismatch is returned when a materialized commit does not
	// reproduce the hash it was recorded with.
	ErrHashMismatch = errors.New("materialized commit hash mismatch")

	// ErrUnsupportedFile is returned when a commit would record something
	// other than a regular file, such as a symbolic link.
	ErrUnsupportedFile = errors.New("only regular files can be committed")

	// ErrUnknownBackend is returned when no backend is registered for a type.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Not in a repository means we can't do anything
	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	// A replay that cannot reproduce recorded hashes would fork history
	if errors.Is(err, ErrHashMismatch) {
		return true
	}

	return false
}
