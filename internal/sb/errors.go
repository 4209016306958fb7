package sb

import "errors"

// Error kinds returned by SBService. Callers match them with errors.Is;
// the wrapped message carries the operation context.
var (
	// ErrNotFound: the id lies outside the collection's sequence, or the
	// record (or its box) has been deleted and is being read.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized: the caller is not the current owner, or is the unset principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSize: chunk count out of bounds, or an empty or oversized
	// title, name, or tag list.
	ErrInvalidSize = errors.New("invalid size")

	// ErrQuotaExceeded: the owner (or box) already holds the maximum number of live records.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyDeleted: a mutation targets a record or box whose owner is the sentinel.
	ErrAlreadyDeleted = errors.New("already deleted")

	// ErrNotShared: a non-owner read without a standing grant.
	ErrNotShared = errors.New("not shared")

	// ErrInvalidGrantee: the grantee is the unset principal or the owner itself.
	ErrInvalidGrantee = errors.New("invalid grantee")

	// ErrInvalidValue: an enum or range violation (unknown status, rating out of range).
	ErrInvalidValue = errors.New("invalid value")

	// ErrBoxClosed: a submission to a box that is not accepting feedback.
	ErrBoxClosed = errors.New("box is closed")
)
