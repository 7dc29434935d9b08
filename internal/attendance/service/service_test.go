package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"roster/internal/attendance/models"
	"roster/internal/attendance/store/attendance"
	"roster/internal/capacity/store/ledger"
	"roster/internal/catalog"
	"roster/internal/geo"
	regmodels "roster/internal/registration/models"
	"roster/internal/registration/store/registration"
	regservice "roster/internal/registration/service"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx           context.Context
	registrations *regservice.Service
	catalog       *catalog.InMemoryCatalog
	store         *attendance.InMemoryStore
	service       *Service
	event         *catalog.Event
	shift         catalog.Shift
	late          catalog.Shift
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

var (
	organizer = domain.Actor{Subject: "org-1", Role: domain.RoleOrganizer}
	venue     = geo.Coordinate{Lat: 25.0657, Lng: 55.1713}
	// about 500 m north of the venue
	farAway = geo.Coordinate{Lat: 25.0702, Lng: 55.1713}
)

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 11, 7, 8, 0, 0, 0, time.UTC))
	s.catalog = catalog.NewInMemoryCatalog()
	s.store = attendance.NewInMemoryStore()

	eventID := domain.EventID(uuid.New())
	start := time.Date(2026, 11, 7, 9, 0, 0, 0, time.UTC)
	s.shift = catalog.Shift{ID: domain.ShiftID(uuid.New()), EventID: eventID, Start: start, End: start.Add(2 * time.Hour), Capacity: 10}
	s.late = catalog.Shift{ID: domain.ShiftID(uuid.New()), EventID: eventID, Start: start.Add(6 * time.Hour), End: start.Add(8 * time.Hour), Capacity: 10}
	s.event = &catalog.Event{
		ID:                   eventID,
		Name:                 "Food bank sorting",
		Geofence:             geo.Geofence{Center: venue, RadiusMeters: 200},
		Capacity:             20,
		RegistrationDeadline: start.Add(-24 * time.Hour),
		Status:               catalog.StatusPublished,
		Shifts:               []catalog.Shift{s.shift, s.late},
	}
	s.Require().NoError(s.catalog.Put(s.ctx, s.event))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.registrations = regservice.New(registration.NewInMemoryStore(), ledger.NewInMemoryLedger(), s.catalog, regservice.WithLogger(logger))
	s.Require().NoError(s.registrations.SyncLedger(s.ctx, false))
	s.service = New(s.store, s.registrations, s.catalog, WithLogger(logger))
}

func (s *ServiceSuite) confirmed(shift catalog.Shift) domain.RegistrationID {
	ctx := requestcontext.WithTime(context.Background(), s.event.RegistrationDeadline.Add(-time.Hour))
	res, err := s.registrations.Register(ctx, domain.VolunteerID(uuid.New()), s.event.ID, shift.ID)
	s.Require().NoError(err)
	s.Require().Equal(regmodels.StatusConfirmed, res.Registration.Status)
	return res.Registration.ID
}

func (s *ServiceSuite) at(hour, minute int) time.Time {
	return time.Date(2026, 11, 7, hour, minute, 0, 0, time.UTC)
}

func (s *ServiceSuite) TestCheckIn() {
	s.Run("inside the geofence", func() {
		id := s.confirmed(s.shift)
		res, err := s.service.CheckIn(s.ctx, id, &venue, s.at(8, 45))
		s.Require().NoError(err)
		s.False(res.Duplicate)
		s.True(res.Record.CheckIn.Validation.Within)
		s.Empty(res.Record.Flags)

		reg, err := s.registrations.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(regmodels.StatusCheckedIn, reg.Status)
	})

	s.Run("outside the geofence is accepted and flagged", func() {
		id := s.confirmed(s.shift)
		res, err := s.service.CheckIn(s.ctx, id, &farAway, s.at(9, 0))
		s.Require().NoError(err)
		s.False(res.Record.CheckIn.Validation.Within)
		s.InDelta(500, res.Record.CheckIn.Validation.DistanceMeters, 10)
		s.Equal([]models.Flag{models.FlagGeofenceViolation}, res.Record.Flags)
	})

	s.Run("missing location is flagged", func() {
		id := s.confirmed(s.shift)
		res, err := s.service.CheckIn(s.ctx, id, nil, s.at(9, 0))
		s.Require().NoError(err)
		s.True(res.Record.CheckIn.Validation.Unavailable)
		s.Equal([]models.Flag{models.FlagLocationUnavailable}, res.Record.Flags)
	})

	s.Run("repeated check-in returns the first record", func() {
		id := s.confirmed(s.shift)
		first, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.Require().NoError(err)
		again, err := s.service.CheckIn(s.ctx, id, &farAway, s.at(9, 5))
		s.Require().NoError(err)
		s.True(again.Duplicate)
		s.Equal(first.Record.CheckIn.At, again.Record.CheckIn.At)
		s.Empty(again.Record.Flags)
	})

	s.Run("too early or after the shift is outside the window", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(8, 29))
		s.True(dErrors.HasReason(err, domain.ReasonOutsideWindow))
		_, err = s.service.CheckIn(s.ctx, id, &venue, s.at(11, 1))
		s.True(dErrors.HasReason(err, domain.ReasonOutsideWindow))
	})

	s.Run("unconfirmed registration is rejected", func() {
		id := s.confirmed(s.shift)
		_, err := s.registrations.Cancel(s.ctx, id, organizer)
		s.Require().NoError(err)
		_, err = s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.True(dErrors.HasReason(err, domain.ReasonNotConfirmed))
	})
}

func (s *ServiceSuite) TestCheckOut() {
	s.Run("finalizes with duration", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.Require().NoError(err)
		res, err := s.service.CheckOut(s.ctx, id, &venue, s.at(10, 40))
		s.Require().NoError(err)
		s.True(res.Record.Finalized)
		s.Equal(100*time.Minute, res.Record.Duration)

		reg, err := s.registrations.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(regmodels.StatusCheckedOut, reg.Status)
	})

	s.Run("same timestamp again is a no-op", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.Require().NoError(err)
		_, err = s.service.CheckOut(s.ctx, id, &venue, s.at(10, 0))
		s.Require().NoError(err)
		again, err := s.service.CheckOut(s.ctx, id, &venue, s.at(10, 0))
		s.Require().NoError(err)
		s.True(again.Duplicate)

		_, err = s.service.CheckOut(s.ctx, id, &venue, s.at(10, 30))
		s.True(dErrors.HasReason(err, domain.ReasonNotCheckedIn))
	})

	s.Run("before check-in clamps to zero", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 30))
		s.Require().NoError(err)
		res, err := s.service.CheckOut(s.ctx, id, &venue, s.at(9, 10))
		s.Require().NoError(err)
		s.Zero(res.Record.Duration)
		s.True(res.Record.HasFlag(models.FlagClockAnomaly))
	})

	s.Run("without check-in is rejected", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckOut(s.ctx, id, &venue, s.at(10, 0))
		s.True(dErrors.HasReason(err, domain.ReasonNotCheckedIn))
	})
}

func (s *ServiceSuite) TestCloseEvent() {
	absent := s.confirmed(s.shift)
	forgot := s.confirmed(s.shift)
	done := s.confirmed(s.shift)
	upcoming := s.confirmed(s.late)

	_, err := s.service.CheckIn(s.ctx, forgot, &venue, s.at(9, 0))
	s.Require().NoError(err)
	_, err = s.service.CheckIn(s.ctx, done, &venue, s.at(9, 0))
	s.Require().NoError(err)
	_, err = s.service.CheckOut(s.ctx, done, &venue, s.at(11, 0))
	s.Require().NoError(err)

	summary, err := s.service.CloseEvent(s.ctx, s.event.ID, s.at(12, 0))
	s.Require().NoError(err)
	s.Equal([]domain.RegistrationID{absent}, summary.NoShows)
	s.Require().Len(summary.AutoFinalized, 1)
	s.Equal(1, summary.OpenShifts)

	rec := summary.AutoFinalized[0]
	s.Equal(forgot, rec.RegistrationID)
	s.True(rec.HasFlag(models.FlagMissingCheckout))
	s.Equal(s.shift.End, rec.CheckOut.At)
	s.True(rec.CheckOut.Auto)

	reg, err := s.registrations.Get(s.ctx, absent)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusNoShow, reg.Status)
	reg, err = s.registrations.Get(s.ctx, upcoming)
	s.Require().NoError(err)
	s.Equal(regmodels.StatusConfirmed, reg.Status)

	again, err := s.service.CloseEvent(s.ctx, s.event.ID, s.at(12, 5))
	s.Require().NoError(err)
	s.Empty(again.NoShows)
	s.Empty(again.AutoFinalized)
}

func (s *ServiceSuite) TestOverride() {
	id := s.confirmed(s.shift)
	_, err := s.service.CheckIn(s.ctx, id, &farAway, s.at(9, 0))
	s.Require().NoError(err)
	_, err = s.service.CheckOut(s.ctx, id, &farAway, s.at(11, 0))
	s.Require().NoError(err)

	s.Run("volunteers cannot override", func() {
		volunteer := domain.Actor{Subject: "v", Role: domain.RoleVolunteer}
		_, err := s.service.Override(s.ctx, id, volunteer, []models.Flag{models.FlagGeofenceViolation}, "gps drift")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("flag must be present", func() {
		_, err := s.service.Override(s.ctx, id, organizer, []models.Flag{models.FlagMissingCheckout}, "n/a")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("finalized record gets a superseding revision", func() {
		rec, err := s.service.Override(s.ctx, id, organizer, []models.Flag{models.FlagGeofenceViolation}, "gps drift at venue")
		s.Require().NoError(err)
		s.Equal(2, rec.Revision)
		s.Equal(1, rec.Supersedes)
		s.Empty(rec.OpenFlags())

		history, err := s.service.History(s.ctx, id)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Empty(history[0].Overrides)
	})

	s.Run("repeat override is a no-op", func() {
		rec, err := s.service.Override(s.ctx, id, organizer, []models.Flag{models.FlagGeofenceViolation}, "again")
		s.Require().NoError(err)
		s.Equal(2, rec.Revision)
	})
}

func (s *ServiceSuite) TestForceNoShow() {
	s.Run("checked-in volunteer", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.Require().NoError(err)
		reg, rec, err := s.service.ForceNoShow(s.ctx, id, organizer)
		s.Require().NoError(err)
		s.Equal(regmodels.StatusNoShow, reg.Status)
		s.True(rec.Finalized)
		s.True(rec.HasFlag(models.FlagOrganizerNoShow))
	})

	s.Run("confirmed volunteer has no record", func() {
		id := s.confirmed(s.shift)
		reg, rec, err := s.service.ForceNoShow(s.ctx, id, organizer)
		s.Require().NoError(err)
		s.Equal(regmodels.StatusNoShow, reg.Status)
		s.Nil(rec)
	})

	s.Run("checked-out volunteer cannot be a no-show", func() {
		id := s.confirmed(s.shift)
		_, err := s.service.CheckIn(s.ctx, id, &venue, s.at(9, 0))
		s.Require().NoError(err)
		_, err = s.service.CheckOut(s.ctx, id, &venue, s.at(10, 0))
		s.Require().NoError(err)
		_, _, err = s.service.ForceNoShow(s.ctx, id, organizer)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}
