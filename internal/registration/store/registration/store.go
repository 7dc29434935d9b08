// Package registration persists registrations.
//
// Error contract for every store:
//   - sentinel.ErrNotFound when the registration does not exist
//   - sentinel.ErrAlreadyExists when an active registration already exists for
//     the (volunteer, event) pair
//   - sentinel.ErrStaleVersion when a concurrent writer won repeatedly
//   - errors returned by an Execute validate callback are passed through as is
package registration

import "errors"

// maxExecuteAttempts bounds optimistic retries in Execute.
const maxExecuteAttempts = 3

// ErrSkip may be returned by an Execute validate callback to abandon the
// update without treating it as a failure.
var ErrSkip = errors.New("skip update")
