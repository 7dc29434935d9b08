package domain

// Machine-readable refinements carried on coded errors. Clients switch on
// these rather than on messages.
const (
	ReasonEventClosed           = "event_closed"
	ReasonDeadlinePassed        = "deadline_passed"
	ReasonDuplicateRegistration = "duplicate_registration"
	ReasonAlreadyTerminal       = "already_terminal"
	ReasonInvalidTransition     = "invalid_transition"
	ReasonNotConfirmed          = "not_confirmed"
	ReasonOutsideWindow         = "outside_window"
	ReasonNotCheckedIn          = "not_checked_in"
	ReasonShiftFull             = "shift_full"
	ReasonCapacityBelowHeld     = "capacity_below_held"
	ReasonNotFinalized          = "not_finalized"
)
