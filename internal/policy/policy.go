// Package policy resolves the participation rules in force for an event:
// built-in defaults, then the event's category, then the event itself.
package policy

import (
	"time"

	"roster/internal/catalog"
)

const (
	DefaultMinAttendanceRatio = 0.5
	DefaultRoundingIncrement  = 30 * time.Minute
	DefaultCheckInGrace       = 30 * time.Minute
)

// Policy is a fully resolved rule set.
type Policy struct {
	// MinAttendanceRatio is the share of the scheduled shift length a
	// volunteer must attend to earn a certificate.
	MinAttendanceRatio float64 `json:"min_attendance_ratio"`
	// RoundingIncrement is the granularity of credited hours. Zero disables
	// rounding.
	RoundingIncrement time.Duration `json:"rounding_increment"`
	// CheckInGrace is how early before shift start check-in opens.
	CheckInGrace time.Duration `json:"check_in_grace"`
	// RequireGeofence makes unresolved location flags block certificates.
	RequireGeofence bool `json:"require_geofence"`
}

func Default() Policy {
	return Policy{
		MinAttendanceRatio: DefaultMinAttendanceRatio,
		RoundingIncrement:  DefaultRoundingIncrement,
		CheckInGrace:       DefaultCheckInGrace,
		RequireGeofence:    true,
	}
}

// Apply returns p with every non-nil override applied.
func (p Policy) Apply(o catalog.PolicyOverrides) Policy {
	if o.MinAttendanceRatio != nil {
		p.MinAttendanceRatio = *o.MinAttendanceRatio
	}
	if o.RoundingIncrement != nil {
		p.RoundingIncrement = *o.RoundingIncrement
	}
	if o.CheckInGrace != nil {
		p.CheckInGrace = *o.CheckInGrace
	}
	if o.RequireGeofence != nil {
		p.RequireGeofence = *o.RequireGeofence
	}
	return p
}

// Resolver layers deployment defaults and category policies under an
// event's own overrides.
type Resolver struct {
	defaults   catalog.PolicyOverrides
	categories map[string]catalog.PolicyOverrides
}

func NewResolver(defaults catalog.PolicyOverrides, categories map[string]catalog.PolicyOverrides) *Resolver {
	return &Resolver{defaults: defaults, categories: categories}
}

// For returns the policy in force for event. A nil Resolver yields the
// built-in defaults plus the event's overrides.
func (r *Resolver) For(event *catalog.Event) Policy {
	p := Default()
	if r != nil {
		p = p.Apply(r.defaults)
		if cat, ok := r.categories[event.Category]; ok {
			p = p.Apply(cat)
		}
	}
	return p.Apply(event.Policy)
}
