package handler

import (
	"strings"
	"time"

	attmodels "roster/internal/attendance/models"
	"roster/internal/geo"
	regmodels "roster/internal/registration/models"
)

type RegisterRequest struct {
	VolunteerID string `json:"volunteer_id" validate:"required,uuid"`
	EventID     string `json:"event_id" validate:"required,uuid"`
	ShiftID     string `json:"shift_id" validate:"required,uuid"`
}

func (r *RegisterRequest) Normalize() {
	r.VolunteerID = strings.TrimSpace(r.VolunteerID)
	r.EventID = strings.TrimSpace(r.EventID)
	r.ShiftID = strings.TrimSpace(r.ShiftID)
}

// PunchRequest is a check-in or check-out. Lat and Lng are both omitted when
// the device could not determine its location.
type PunchRequest struct {
	RegistrationID string     `json:"registration_id" validate:"required,uuid"`
	Lat            *float64   `json:"lat" validate:"required_with=Lng,omitempty,latitude"`
	Lng            *float64   `json:"lng" validate:"required_with=Lat,omitempty,longitude"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (r *PunchRequest) Normalize() {
	r.RegistrationID = strings.TrimSpace(r.RegistrationID)
}

func (r *PunchRequest) Coordinate() *geo.Coordinate {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &geo.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
}

func (r *PunchRequest) At() time.Time {
	if r.Timestamp == nil {
		return time.Time{}
	}
	return r.Timestamp.UTC()
}

type OverrideRequest struct {
	Flags []string `json:"flags" validate:"required,min=1,dive,oneof=geofence_violation location_unavailable clock_anomaly missing_checkout organizer_no_show"`
	Note  string   `json:"note" validate:"required,max=500"`
}

func (r *OverrideRequest) Normalize() {
	r.Note = strings.TrimSpace(r.Note)
}

func (r *OverrideRequest) ToFlags() []attmodels.Flag {
	out := make([]attmodels.Flag, len(r.Flags))
	for i, f := range r.Flags {
		out[i] = attmodels.Flag(f)
	}
	return out
}

type CapacityRequest struct {
	Capacity *int `json:"capacity" validate:"required,min=0"`
}

type RegistrationResponse struct {
	Registration     *regmodels.Registration `json:"registration"`
	WaitlistPosition int                     `json:"waitlist_position,omitempty"`
	Existing         bool                    `json:"existing,omitempty"`
}

type CancelResponse struct {
	Registration *regmodels.Registration `json:"registration"`
	Promoted     *regmodels.Registration `json:"promoted,omitempty"`
}

type AttendanceResponse struct {
	Record    *attmodels.Record   `json:"record"`
	Duplicate bool                `json:"duplicate,omitempty"`
	History   []*attmodels.Record `json:"history,omitempty"`
}

type PromotedResponse struct {
	Promoted []*regmodels.Registration `json:"promoted"`
}
