// Package certificate derives certificate eligibility and credited hours
// from finalized attendance. Decisions are recomputed on every call and
// never stored.
package certificate

import (
	"context"
	"math"
	"time"

	attmodels "roster/internal/attendance/models"
	"roster/internal/catalog"
	"roster/internal/policy"
	regmodels "roster/internal/registration/models"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/requestcontext"
)

// Reason explains why a registration is not eligible.
type Reason string

const (
	ReasonNotCompleted             Reason = "not_completed"
	ReasonNoShow                   Reason = "no_show"
	ReasonBelowMinimumDuration     Reason = "below_minimum_duration"
	ReasonGeofenceViolationFlagged Reason = "geofence_violation_flagged"
	ReasonLocationUnconfirmed      Reason = "location_unconfirmed"
	ReasonClockAnomaly             Reason = "clock_anomaly"
	ReasonMissingCheckout          Reason = "missing_checkout"
)

// Decision is the derived eligibility of one registration.
type Decision struct {
	RegistrationID domain.RegistrationID `json:"registration_id"`
	VolunteerID    domain.VolunteerID    `json:"volunteer_id"`
	EventID        domain.EventID        `json:"event_id"`
	ShiftID        domain.ShiftID        `json:"shift_id"`
	Eligible       bool                  `json:"eligible"`
	HoursCredited  float64               `json:"hours_credited"`
	Reasons        []Reason              `json:"reasons"`
	// BasedOnRevision is the attendance revision the decision was computed
	// from, zero when there is no record.
	BasedOnRevision int           `json:"based_on_revision"`
	Policy          policy.Policy `json:"policy"`
	EvaluatedAt     time.Time     `json:"evaluated_at"`
}

func (d *Decision) HasReason(r Reason) bool {
	for _, got := range d.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

type Registrations interface {
	Get(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	ListByVolunteer(ctx context.Context, volunteerID domain.VolunteerID) ([]*regmodels.Registration, error)
}

type Attendance interface {
	Get(ctx context.Context, id domain.RegistrationID) (*attmodels.Record, error)
}

type Catalog interface {
	GetShift(ctx context.Context, id domain.ShiftID) (*catalog.Event, catalog.Shift, error)
}

type PolicyResolver interface {
	For(event *catalog.Event) policy.Policy
}

type Issuer struct {
	registrations Registrations
	attendance    Attendance
	catalog       Catalog
	policies      PolicyResolver
}

func NewIssuer(registrations Registrations, attendance Attendance, cat Catalog, policies PolicyResolver) *Issuer {
	if policies == nil {
		policies = (*policy.Resolver)(nil)
	}
	return &Issuer{registrations: registrations, attendance: attendance, catalog: cat, policies: policies}
}

// Evaluate computes the decision for a registration from its latest
// attendance revision and the event's policy.
func (i *Issuer) Evaluate(ctx context.Context, id domain.RegistrationID) (*Decision, error) {
	reg, err := i.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return i.evaluate(ctx, reg)
}

func (i *Issuer) evaluate(ctx context.Context, reg *regmodels.Registration) (*Decision, error) {
	event, shift, err := i.catalog.GetShift(ctx, reg.ShiftID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shift")
	}
	pol := i.policies.For(event)
	d := &Decision{
		RegistrationID: reg.ID,
		VolunteerID:    reg.VolunteerID,
		EventID:        reg.EventID,
		ShiftID:        reg.ShiftID,
		Reasons:        []Reason{},
		Policy:         pol,
		EvaluatedAt:    requestcontext.Now(ctx),
	}

	switch reg.Status {
	case regmodels.StatusNoShow:
		d.Reasons = append(d.Reasons, ReasonNoShow)
		return d, nil
	case regmodels.StatusCheckedOut:
	default:
		d.Reasons = append(d.Reasons, ReasonNotCompleted)
		return d, nil
	}

	rec, err := i.attendance.Get(ctx, reg.ID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			d.Reasons = append(d.Reasons, ReasonNotCompleted)
			return d, nil
		}
		return nil, err
	}
	d.BasedOnRevision = rec.Revision
	if !rec.Finalized {
		d.Reasons = append(d.Reasons, ReasonNotCompleted)
		return d, nil
	}
	if rec.HasFlag(attmodels.FlagOrganizerNoShow) {
		d.Reasons = append(d.Reasons, ReasonNoShow)
		return d, nil
	}

	length := shift.Length()
	if float64(rec.Duration) < pol.MinAttendanceRatio*float64(length) {
		d.Reasons = append(d.Reasons, ReasonBelowMinimumDuration)
	}
	for _, f := range rec.OpenFlags() {
		switch f {
		case attmodels.FlagGeofenceViolation:
			if pol.RequireGeofence {
				d.Reasons = append(d.Reasons, ReasonGeofenceViolationFlagged)
			}
		case attmodels.FlagLocationUnavailable:
			if pol.RequireGeofence {
				d.Reasons = append(d.Reasons, ReasonLocationUnconfirmed)
			}
		case attmodels.FlagClockAnomaly:
			d.Reasons = append(d.Reasons, ReasonClockAnomaly)
		case attmodels.FlagMissingCheckout:
			d.Reasons = append(d.Reasons, ReasonMissingCheckout)
		}
	}

	d.HoursCredited = CreditedHours(rec.Duration, length, pol.RoundingIncrement)
	d.Eligible = len(d.Reasons) == 0
	return d, nil
}

// CreditedHours caps duration at the shift length and rounds it to the
// nearest increment.
func CreditedHours(duration, shiftLength, increment time.Duration) float64 {
	credited := min(duration, shiftLength)
	if credited < 0 {
		credited = 0
	}
	if increment > 0 {
		steps := math.Round(float64(credited) / float64(increment))
		credited = time.Duration(steps) * increment
	}
	return credited.Hours()
}

// Hours totals a volunteer's certified hours.
type Hours struct {
	VolunteerID domain.VolunteerID `json:"volunteer_id"`
	TotalHours  float64            `json:"total_hours"`
	Decisions   []*Decision        `json:"decisions"`
}

// VolunteerHours evaluates every registration of the volunteer and sums the
// hours of the eligible ones.
func (i *Issuer) VolunteerHours(ctx context.Context, volunteerID domain.VolunteerID) (*Hours, error) {
	regs, err := i.registrations.ListByVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, err
	}
	h := &Hours{VolunteerID: volunteerID, Decisions: []*Decision{}}
	for _, reg := range regs {
		if reg.Status != regmodels.StatusCheckedOut {
			continue
		}
		d, err := i.evaluate(ctx, reg)
		if err != nil {
			return nil, err
		}
		h.Decisions = append(h.Decisions, d)
		if d.Eligible {
			h.TotalHours += d.HoursCredited
		}
	}
	return h, nil
}
