// Package attendance persists attendance records as an append-only series of
// revisions per registration.
//
// Error contract:
//   - sentinel.ErrNotFound when no record exists for the registration
//   - sentinel.ErrAlreadyExists when Create finds an existing record
//   - ErrFinalized when an Execute mutation edits a finalized revision in
//     place instead of calling BeginRevision
//   - errors returned by an Execute validate callback are passed through
package attendance

import "errors"

var (
	ErrFinalized = errors.New("finalized revision is immutable")
	// ErrSkip may be returned by a validate callback to abandon the change.
	ErrSkip = errors.New("skip update")
)
