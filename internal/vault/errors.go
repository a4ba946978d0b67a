package vault

import "errors"

// Sentinel errors for the conditions the Resolver distinguishes.
// Only ErrNotFound and ErrUnauthorized are ever reflected back to users;
// everything else is logged and converted to a generic apology.
var (
	// ErrNotFound means the token has no record, or the deep-link argument
	// could not be parsed into a token at all. The two cases are deliberately
	// indistinguishable to the caller.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized means the identity failed the ingest or redeem policy.
	// It does not leak whether the token exists.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageFailure means the persistence layer was unavailable for a
	// write. Callers must assume nothing was saved.
	ErrStorageFailure = errors.New("storage failure")

	// ErrDeliveryFailure means the messaging transport failed to deliver.
	// The record and its counters are unaffected.
	ErrDeliveryFailure = errors.New("delivery failure")
)
