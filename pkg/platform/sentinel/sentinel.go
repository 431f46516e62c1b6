package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about records, not validation failures:
// - ErrNotFound: no record exists for the key
// - ErrAlreadyExists: insert-iff-absent found an existing record
// - ErrConflict: compare-and-update saw a different version than expected
// - ErrInvalidState: record is in the wrong state for the requested write
// - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, broken invariants), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
