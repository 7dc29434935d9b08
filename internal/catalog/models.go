package catalog

import (
	"time"

	"github.com/google/uuid"

	"roster/internal/geo"
	"roster/pkg/domain"
)

// Status is the lifecycle state of an event as published by event management.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// AcceptsRegistrations reports whether new registrations may be taken.
func (s Status) AcceptsRegistrations() bool {
	return s == StatusPublished
}

// PolicyOverrides tunes participation rules for a category or a single event.
// Nil fields inherit from the enclosing level.
type PolicyOverrides struct {
	MinAttendanceRatio *float64       `json:"min_attendance_ratio,omitempty" yaml:"min_attendance_ratio" validate:"omitempty,gte=0,lte=1"`
	RoundingIncrement  *time.Duration `json:"rounding_increment,omitempty" yaml:"rounding_increment" validate:"omitempty,gte=0"`
	CheckInGrace       *time.Duration `json:"check_in_grace,omitempty" yaml:"check_in_grace" validate:"omitempty,gte=0"`
	RequireGeofence    *bool          `json:"require_geofence,omitempty" yaml:"require_geofence"`
}

// Merge returns o with any nil field filled from base.
func (o PolicyOverrides) Merge(base PolicyOverrides) PolicyOverrides {
	if o.MinAttendanceRatio == nil {
		o.MinAttendanceRatio = base.MinAttendanceRatio
	}
	if o.RoundingIncrement == nil {
		o.RoundingIncrement = base.RoundingIncrement
	}
	if o.CheckInGrace == nil {
		o.CheckInGrace = base.CheckInGrace
	}
	if o.RequireGeofence == nil {
		o.RequireGeofence = base.RequireGeofence
	}
	return o
}

// Event is the read model of an event published by event management.
type Event struct {
	ID                   domain.EventID  `json:"id"`
	Name                 string          `json:"name"`
	Category             string          `json:"category,omitempty"`
	Geofence             geo.Geofence    `json:"geofence"`
	Capacity             int             `json:"capacity"`
	RegistrationDeadline time.Time       `json:"registration_deadline"`
	Status               Status          `json:"status"`
	RequiresApproval     bool            `json:"requires_approval"`
	Policy               PolicyOverrides `json:"policy"`
	Shifts               []Shift         `json:"shifts"`
}

// Shift is a time slot of an event with its own capacity.
type Shift struct {
	ID       domain.ShiftID `json:"id"`
	EventID  domain.EventID `json:"event_id"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Capacity int            `json:"capacity"`
}

// Length is the scheduled duration of the shift.
func (s Shift) Length() time.Duration {
	if s.End.Before(s.Start) {
		return 0
	}
	return s.End.Sub(s.Start)
}

// HasEnded reports whether the shift is over at now.
func (s Shift) HasEnded(now time.Time) bool {
	return !now.Before(s.End)
}

// Shift returns the shift with id, if it belongs to the event.
func (e *Event) Shift(id domain.ShiftID) (Shift, bool) {
	for _, s := range e.Shifts {
		if s.ID == id {
			return s, true
		}
	}
	return Shift{}, false
}

// Ends returns the end of the event's last shift.
func (e *Event) Ends() time.Time {
	var end time.Time
	for _, s := range e.Shifts {
		if s.End.After(end) {
			end = s.End
		}
	}
	return end
}

// DefaultShiftID derives the ID of the implicit shift of an event defined
// without shifts. It is stable across reloads.
func DefaultShiftID(eventID domain.EventID) domain.ShiftID {
	return domain.ShiftID(uuid.NewSHA1(uuid.UUID(eventID), []byte("default-shift")))
}

// OccurrenceShiftID derives the ID of one occurrence of a recurring shift.
func OccurrenceShiftID(eventID domain.EventID, template string, start time.Time) domain.ShiftID {
	name := template + "@" + start.UTC().Format(time.RFC3339)
	return domain.ShiftID(uuid.NewSHA1(uuid.UUID(eventID), []byte(name)))
}
