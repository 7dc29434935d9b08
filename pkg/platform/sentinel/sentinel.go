package sentinel

import "errors"

// Store-level facts. Stores return these (optionally wrapped) and services
// translate them into coded domain errors.
//
//   - ErrNotFound: no row/entry for the key
//   - ErrAlreadyExists: a unique key (for example an active registration per
//     volunteer and event) is already taken
//   - ErrStaleVersion: optimistic concurrency check failed; reload and retry
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStaleVersion  = errors.New("stale version")
	ErrUnavailable   = errors.New("unavailable")
)
