// Package capacity defines the shift capacity ledger: the single authority on
// how many slots a shift holds and who waits for one.
package capacity

import (
	"context"
	"errors"

	"roster/pkg/domain"
)

var (
	// ErrShiftFull is returned by Claim when no slot is free.
	ErrShiftFull = errors.New("shift full")
	// ErrUnknownShift is returned for shifts that were never defined.
	ErrUnknownShift = errors.New("unknown shift")
	// ErrCapacityBelowHeld is returned by Resize when the new capacity is
	// smaller than the number of held slots.
	ErrCapacityBelowHeld = errors.New("capacity below held slots")
	// ErrNotHeld is returned by MarkConfirmed for registrations without a slot.
	ErrNotHeld = errors.New("registration holds no slot")
	// ErrInvalidCapacity is returned for negative capacities.
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// Reservation is the result of TryReserve. Exactly one of OK and Waitlisted
// is true. Position is the 1-based waitlist position when Waitlisted.
type Reservation struct {
	OK         bool
	Waitlisted bool
	Position   int
	// Existing is true when the registration was already known to the ledger.
	Existing bool
}

// ReleaseResult reports whether a slot was freed and which waitlisted
// registration, if any, was promoted into it.
type ReleaseResult struct {
	Released bool
	Promoted *domain.RegistrationID
}

// Counts is a capacity snapshot for a shift or an event.
type Counts struct {
	Capacity   int `json:"capacity"`
	Held       int `json:"held"`
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
}

// Available returns the number of free slots.
func (c Counts) Available() int {
	if c.Held >= c.Capacity {
		return 0
	}
	return c.Capacity - c.Held
}

// Add sums two snapshots.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Capacity:   c.Capacity + o.Capacity,
		Held:       c.Held + o.Held,
		Confirmed:  c.Confirmed + o.Confirmed,
		Waitlisted: c.Waitlisted + o.Waitlisted,
	}
}

// Ledger serializes capacity changes per shift. Implementations never let Held
// exceed Capacity, and each operation is a single atomic step for its shift.
type Ledger interface {
	Define(ctx context.Context, shiftID domain.ShiftID, eventID domain.EventID, capacity int) error
	TryReserve(ctx context.Context, shiftID domain.ShiftID, registrationID domain.RegistrationID, confirmed bool) (Reservation, error)
	Release(ctx context.Context, shiftID domain.ShiftID, registrationID domain.RegistrationID) (ReleaseResult, error)
	PromoteFromWaitlist(ctx context.Context, shiftID domain.ShiftID) (*domain.RegistrationID, error)
	Withdraw(ctx context.Context, shiftID domain.ShiftID, registrationID domain.RegistrationID) (bool, error)
	Claim(ctx context.Context, shiftID domain.ShiftID, registrationID domain.RegistrationID) error
	MarkConfirmed(ctx context.Context, shiftID domain.ShiftID, registrationID domain.RegistrationID) error
	Resize(ctx context.Context, shiftID domain.ShiftID, capacity int) ([]domain.RegistrationID, error)
	Counts(ctx context.Context, shiftID domain.ShiftID) (Counts, error)
	EventCounts(ctx context.Context, eventID domain.EventID) (Counts, error)
}
