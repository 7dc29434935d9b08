package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"roster/internal/geo"
	"roster/pkg/domain"
)

// maxOccurrences bounds rrule expansion for a single shift template.
const maxOccurrences = 366

var validate = validator.New()

// File is the on-disk catalog: certificate policies plus the events that
// event management has published to this deployment.
type File struct {
	Policies PoliciesFile `yaml:"policies"`
	Events   []EventFile  `yaml:"events" validate:"dive"`
}

type PoliciesFile struct {
	Default    PolicyOverrides            `yaml:"default"`
	Categories map[string]PolicyOverrides `yaml:"categories" validate:"dive"`
}

type EventFile struct {
	ID                   string          `yaml:"id" validate:"required,uuid"`
	Name                 string          `yaml:"name" validate:"required"`
	Category             string          `yaml:"category"`
	Status               Status          `yaml:"status" validate:"required"`
	Capacity             int             `yaml:"capacity" validate:"gte=0"`
	RegistrationDeadline time.Time       `yaml:"registration_deadline" validate:"required"`
	RequiresApproval     bool            `yaml:"requires_approval"`
	Geofence             geo.Geofence    `yaml:"geofence"`
	Policy               PolicyOverrides `yaml:"policy"`
	// Start and End describe the implicit shift of an event without shifts.
	Start  time.Time   `yaml:"start"`
	End    time.Time   `yaml:"end"`
	Shifts []ShiftFile `yaml:"shifts" validate:"dive"`
}

type ShiftFile struct {
	ID       string    `yaml:"id" validate:"required,uuid"`
	Start    time.Time `yaml:"start" validate:"required"`
	End      time.Time `yaml:"end" validate:"required,gtfield=Start"`
	Capacity int       `yaml:"capacity" validate:"gte=0"`
	// RRule expands the shift into one occurrence per recurrence, keeping
	// the shift length. Occurrence IDs derive from ID and the start time.
	RRule string `yaml:"rrule"`
}

// Snapshot is a parsed and normalized catalog file.
type Snapshot struct {
	Events     []*Event
	Defaults   PolicyOverrides
	Categories map[string]PolicyOverrides
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes, validates and normalizes a catalog document.
func Parse(data []byte) (*Snapshot, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}

	snap := &Snapshot{
		Defaults:   f.Policies.Default,
		Categories: f.Policies.Categories,
	}
	for i, ef := range f.Events {
		e, err := ef.toEvent()
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		snap.Events = append(snap.Events, e)
	}
	return snap, nil
}

// Apply stores every event of the snapshot in the catalog.
func (s *Snapshot) Apply(ctx context.Context, c *InMemoryCatalog) error {
	for _, e := range s.Events {
		if err := c.Put(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ef EventFile) toEvent() (*Event, error) {
	if !ef.Status.IsValid() {
		return nil, fmt.Errorf("invalid status %q", ef.Status)
	}
	id, err := domain.ParseEventID(ef.ID)
	if err != nil {
		return nil, err
	}
	e := &Event{
		ID:                   id,
		Name:                 ef.Name,
		Category:             ef.Category,
		Geofence:             ef.Geofence,
		Capacity:             ef.Capacity,
		RegistrationDeadline: ef.RegistrationDeadline,
		Status:               ef.Status,
		RequiresApproval:     ef.RequiresApproval,
		Policy:               ef.Policy,
	}

	if len(ef.Shifts) == 0 {
		if ef.Start.IsZero() || !ef.End.After(ef.Start) {
			return nil, fmt.Errorf("event without shifts needs start < end")
		}
		e.Shifts = []Shift{{
			ID:       DefaultShiftID(id),
			EventID:  id,
			Start:    ef.Start,
			End:      ef.End,
			Capacity: ef.Capacity,
		}}
		return e, nil
	}

	for j, sf := range ef.Shifts {
		shifts, err := sf.expand(id)
		if err != nil {
			return nil, fmt.Errorf("shifts[%d]: %w", j, err)
		}
		e.Shifts = append(e.Shifts, shifts...)
	}
	return e, nil
}

func (sf ShiftFile) expand(eventID domain.EventID) ([]Shift, error) {
	shiftID, err := domain.ParseShiftID(sf.ID)
	if err != nil {
		return nil, err
	}
	if sf.RRule == "" {
		return []Shift{{ID: shiftID, EventID: eventID, Start: sf.Start, End: sf.End, Capacity: sf.Capacity}}, nil
	}

	rule, err := rrule.StrToRRule(sf.RRule)
	if err != nil {
		return nil, fmt.Errorf("invalid rrule: %w", err)
	}
	rule.DTStart(sf.Start)
	length := sf.End.Sub(sf.Start)

	var out []Shift
	next := rule.Iterator()
	for {
		start, ok := next()
		if !ok {
			break
		}
		if len(out) == maxOccurrences {
			return nil, fmt.Errorf("rrule expands to more than %d occurrences", maxOccurrences)
		}
		out = append(out, Shift{
			ID:       OccurrenceShiftID(eventID, sf.ID, start),
			EventID:  eventID,
			Start:    start,
			End:      start.Add(length),
			Capacity: sf.Capacity,
		})
	}
	return out, nil
}
