package models

import (
	"time"

	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
)

// Status is the lifecycle state of a registration.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusWaitlisted Status = "waitlisted"
	StatusConfirmed  Status = "confirmed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

var transitions = map[Status][]Status{
	StatusRegistered: {StatusConfirmed, StatusCancelled},
	StatusWaitlisted: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusCheckedOut, StatusNoShow},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusRegistered, StatusWaitlisted, StatusConfirmed, StatusCancelled,
		StatusNoShow, StatusCheckedIn, StatusCheckedOut:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusNoShow || s == StatusCheckedOut
}

// IsActive reports whether the registration counts toward the one active
// registration a volunteer may hold per event.
func (s Status) IsActive() bool {
	return s.IsValid() && s != StatusCancelled
}

// HoldsSlot reports whether the registration occupies shift capacity.
func (s Status) HoldsSlot() bool {
	return s.IsActive() && s != StatusWaitlisted
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Registration binds a volunteer to one shift of an event.
//
// Invariants:
//   - at most one active registration per (VolunteerID, EventID)
//   - Status only changes through Transition
//   - Version increases by one on every persisted change
type Registration struct {
	ID          domain.RegistrationID `json:"id"`
	VolunteerID domain.VolunteerID    `json:"volunteer_id"`
	EventID     domain.EventID        `json:"event_id"`
	ShiftID     domain.ShiftID        `json:"shift_id"`
	Status      Status                `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ConfirmedAt *time.Time            `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time            `json:"cancelled_at,omitempty"`
	CancelledBy string                `json:"cancelled_by,omitempty"`
	Version     int                   `json:"version"`
}

// CanTransition returns a coded conflict when to is not reachable.
func (r *Registration) CanTransition(to Status) error {
	if r.Status == to {
		return nil
	}
	if r.Status.IsTerminal() {
		return dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonAlreadyTerminal,
			"registration is "+string(r.Status))
	}
	if !r.Status.CanTransitionTo(to) {
		if to == StatusCancelled {
			// checked-in volunteers leave through check-out, not cancel
			return dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonAlreadyTerminal,
				"registration is "+string(r.Status)+" and can no longer be cancelled")
		}
		return dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonInvalidTransition,
			"cannot move registration from "+string(r.Status)+" to "+string(to))
	}
	return nil
}

// ApplyTransition moves the registration to `to` and stamps timestamps.
// Call CanTransition first.
func (r *Registration) ApplyTransition(to Status, now time.Time) {
	if r.Status == to {
		return
	}
	r.Status = to
	r.UpdatedAt = now
	if to == StatusConfirmed {
		t := now
		r.ConfirmedAt = &t
	}
	if to == StatusCancelled {
		t := now
		r.CancelledAt = &t
	}
}

// Transition validates and applies in one call.
func (r *Registration) Transition(to Status, now time.Time) error {
	if err := r.CanTransition(to); err != nil {
		return err
	}
	r.ApplyTransition(to, now)
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (r *Registration) Clone() *Registration {
	cp := *r
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}
