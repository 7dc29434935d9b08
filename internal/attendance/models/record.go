package models

import (
	"slices"
	"time"

	"roster/internal/geo"
	"roster/pkg/domain"
)

// Flag marks an attendance anomaly. Flags are recorded, never dropped; an
// organizer override clears one for certificate purposes.
type Flag string

const (
	FlagGeofenceViolation   Flag = "geofence_violation"
	FlagLocationUnavailable Flag = "location_unavailable"
	FlagClockAnomaly        Flag = "clock_anomaly"
	FlagMissingCheckout     Flag = "missing_checkout"
	FlagOrganizerNoShow     Flag = "organizer_no_show"
)

func (f Flag) IsValid() bool {
	switch f {
	case FlagGeofenceViolation, FlagLocationUnavailable, FlagClockAnomaly, FlagMissingCheckout, FlagOrganizerNoShow:
		return true
	}
	return false
}

// Punch is one check-in or check-out. Coordinate is nil when the device
// reported no location.
type Punch struct {
	At         time.Time       `json:"at"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
	Validation geo.Result      `json:"validation"`
	// Auto is set when the punch was synthesized at event close.
	Auto bool `json:"auto,omitempty"`
}

// Override records an organizer clearing a flag.
type Override struct {
	Flag  Flag         `json:"flag"`
	Actor domain.Actor `json:"actor"`
	Note  string       `json:"note"`
	At    time.Time    `json:"at"`
}

// Record is the attendance of one registration. Revision starts at 1; once a
// record is finalized, every change is stored as a new revision whose
// Supersedes points at the previous one.
type Record struct {
	RegistrationID domain.RegistrationID `json:"registration_id"`
	EventID        domain.EventID        `json:"event_id"`
	ShiftID        domain.ShiftID        `json:"shift_id"`
	VolunteerID    domain.VolunteerID    `json:"volunteer_id"`
	Revision       int                   `json:"revision"`
	Supersedes     int                   `json:"supersedes,omitempty"`
	CheckIn        Punch                 `json:"check_in"`
	CheckOut       *Punch                `json:"check_out,omitempty"`
	Duration       time.Duration         `json:"duration"`
	Flags          []Flag                `json:"flags"`
	Overrides      []Override            `json:"overrides,omitempty"`
	Finalized      bool                  `json:"finalized"`
	FinalizedAt    *time.Time            `json:"finalized_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func (r *Record) HasFlag(f Flag) bool {
	return slices.Contains(r.Flags, f)
}

// AddFlag adds f once.
func (r *Record) AddFlag(f Flag) {
	if !r.HasFlag(f) {
		r.Flags = append(r.Flags, f)
	}
}

// IsOverridden reports whether an organizer cleared f.
func (r *Record) IsOverridden(f Flag) bool {
	return slices.ContainsFunc(r.Overrides, func(o Override) bool { return o.Flag == f })
}

// OpenFlags returns the flags no organizer has cleared.
func (r *Record) OpenFlags() []Flag {
	var open []Flag
	for _, f := range r.Flags {
		if !r.IsOverridden(f) {
			open = append(open, f)
		}
	}
	return open
}

// IsOpen reports whether the volunteer is checked in and not yet out.
func (r *Record) IsOpen() bool {
	return !r.Finalized && r.CheckOut == nil
}

// Finalize closes the record with out as its check-out. A check-out before
// the check-in clamps the duration to zero and flags a clock anomaly.
func (r *Record) Finalize(out Punch, now time.Time) {
	r.CheckOut = &out
	d := out.At.Sub(r.CheckIn.At)
	if d < 0 {
		d = 0
		r.AddFlag(FlagClockAnomaly)
	}
	r.Duration = d
	r.Finalized = true
	t := now
	r.FinalizedAt = &t
	r.UpdatedAt = now
}

// BeginRevision prepares r for a correction. Open records change in place;
// finalized records become the next revision superseding the current one.
func (r *Record) BeginRevision(now time.Time) {
	if r.Finalized {
		r.Supersedes = r.Revision
		r.Revision++
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := *r
	if r.CheckIn.Coordinate != nil {
		c := *r.CheckIn.Coordinate
		cp.CheckIn.Coordinate = &c
	}
	if r.CheckOut != nil {
		out := *r.CheckOut
		if out.Coordinate != nil {
			c := *out.Coordinate
			out.Coordinate = &c
		}
		cp.CheckOut = &out
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		cp.FinalizedAt = &t
	}
	cp.Flags = slices.Clone(r.Flags)
	cp.Overrides = slices.Clone(r.Overrides)
	return &cp
}
