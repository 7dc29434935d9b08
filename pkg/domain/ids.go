package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "roster/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct type so a shift ID can never be passed
// where a registration ID is expected.
type (
	VolunteerID    uuid.UUID
	EventID        uuid.UUID
	ShiftID        uuid.UUID
	RegistrationID uuid.UUID
)

const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParseVolunteerID(s string) (VolunteerID, error) {
	u, err := parseUUID("volunteer_id", s)
	return VolunteerID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID("event_id", s)
	return EventID(u), err
}

func ParseShiftID(s string) (ShiftID, error) {
	u, err := parseUUID("shift_id", s)
	return ShiftID(u), err
}

func ParseRegistrationID(s string) (RegistrationID, error) {
	u, err := parseUUID("registration_id", s)
	return RegistrationID(u), err
}

func NewRegistrationID() RegistrationID { return RegistrationID(uuid.New()) }

func (id VolunteerID) String() string    { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id ShiftID) String() string        { return uuid.UUID(id).String() }
func (id RegistrationID) String() string { return uuid.UUID(id).String() }

func (id VolunteerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ShiftID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id VolunteerID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id ShiftID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id RegistrationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *VolunteerID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ShiftID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RegistrationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
