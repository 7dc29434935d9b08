// Package events carries domain events from the participation engine to the
// messaging layer. Delivery is asynchronous and at-least-once; every event has
// a deterministic ID so consumers can drop redeliveries.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"roster/pkg/domain"
)

type Type string

const (
	TypeRegistrationCreated   Type = "registration.created"
	TypeRegistrationCancelled Type = "registration.cancelled"
	TypeRegistrationPromoted  Type = "registration.promoted"
	TypeAttendanceCheckedIn   Type = "attendance.checked_in"
	TypeHoursLogged           Type = "hours.logged"
	TypeCertificateIssued     Type = "certificate.issued"
)

var idNamespace = uuid.MustParse("3f0c4c8e-5b8f-4d0e-9a43-7f1f8cf2b6a1")

// Event is one domain event. Data is the JSON payload.
type Event struct {
	ID             uuid.UUID             `json:"id"`
	Type           Type                  `json:"type"`
	OccurredAt     time.Time             `json:"occurred_at"`
	RegistrationID domain.RegistrationID `json:"registration_id"`
	VolunteerID    domain.VolunteerID    `json:"volunteer_id"`
	EventID        domain.EventID        `json:"event_id"`
	ShiftID        domain.ShiftID        `json:"shift_id"`
	Data           json.RawMessage       `json:"data,omitempty"`
}

// Key partitions events so everything about one registration stays ordered.
func (e Event) Key() string {
	return e.RegistrationID.String()
}

// New builds an event whose ID is derived from its type, registration and
// discriminator. Emitting the same fact twice yields the same ID.
func New(t Type, reg Subject, discriminator string, at time.Time, data any) (Event, error) {
	e := Event{
		ID:             EventID(t, reg.RegistrationID, discriminator),
		Type:           t,
		OccurredAt:     at.UTC(),
		RegistrationID: reg.RegistrationID,
		VolunteerID:    reg.VolunteerID,
		EventID:        reg.EventID,
		ShiftID:        reg.ShiftID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		e.Data = raw
	}
	return e, nil
}

// Subject names the registration an event is about.
type Subject struct {
	RegistrationID domain.RegistrationID
	VolunteerID    domain.VolunteerID
	EventID        domain.EventID
	ShiftID        domain.ShiftID
}

func EventID(t Type, reg domain.RegistrationID, discriminator string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(string(t)+"|"+reg.String()+"|"+discriminator))
}
