package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"roster/internal/capacity"
	"roster/internal/capacity/store/ledger"
	"roster/internal/catalog"
	"roster/internal/geo"
	"roster/internal/registration/models"
	"roster/internal/registration/store/registration"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *registration.InMemoryStore
	ledger  *ledger.InMemoryLedger
	catalog *catalog.InMemoryCatalog
	service *Service
	event   *catalog.Event
	shift   catalog.Shift
	other   catalog.Shift
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

var organizer = domain.Actor{Subject: "org-1", Role: domain.RoleOrganizer}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = registration.NewInMemoryStore()
	s.ledger = ledger.NewInMemoryLedger()
	s.catalog = catalog.NewInMemoryCatalog()

	eventID := domain.EventID(uuid.New())
	start := time.Date(2026, 11, 7, 6, 0, 0, 0, time.UTC)
	s.shift = catalog.Shift{ID: domain.ShiftID(uuid.New()), EventID: eventID, Start: start, End: start.Add(3 * time.Hour), Capacity: 2}
	s.other = catalog.Shift{ID: domain.ShiftID(uuid.New()), EventID: eventID, Start: start.Add(8 * time.Hour), End: start.Add(11 * time.Hour), Capacity: 5}
	s.event = &catalog.Event{
		ID:                   eventID,
		Name:                 "Beach cleanup",
		Geofence:             geo.Geofence{Center: geo.Coordinate{Lat: 25.0657, Lng: 55.1713}, RadiusMeters: 150},
		Capacity:             7,
		RegistrationDeadline: time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
		Status:               catalog.StatusPublished,
		RequiresApproval:     true,
		Shifts:               []catalog.Shift{s.shift, s.other},
	}
	s.Require().NoError(s.catalog.Put(s.ctx, s.event))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.store, s.ledger, s.catalog, WithLogger(logger))
	s.Require().NoError(s.service.SyncLedger(s.ctx, false))
}

func (s *ServiceSuite) register(volunteer domain.VolunteerID) *RegisterResult {
	res, err := s.service.Register(s.ctx, volunteer, s.event.ID, s.shift.ID)
	s.Require().NoError(err)
	return res
}

func newVolunteer() domain.VolunteerID { return domain.VolunteerID(uuid.New()) }

func (s *ServiceSuite) TestRegister() {
	s.Run("requires approval leaves registration registered", func() {
		res := s.register(newVolunteer())
		s.Equal(models.StatusRegistered, res.Registration.Status)
		s.Equal(1, res.Registration.Version)
	})

	s.Run("auto-confirm when approval is not required", func() {
		s.event.RequiresApproval = false
		s.Require().NoError(s.catalog.Put(s.ctx, s.event))
		res, err := s.service.Register(s.ctx, newVolunteer(), s.event.ID, s.other.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, res.Registration.Status)
		s.NotNil(res.Registration.ConfirmedAt)

		counts, err := s.service.ShiftCounts(s.ctx, s.other.ID)
		s.Require().NoError(err)
		s.Equal(1, counts.Confirmed)
	})

	s.Run("same shift again returns the existing registration", func() {
		volunteer := newVolunteer()
		first, err := s.service.Register(s.ctx, volunteer, s.event.ID, s.other.ID)
		s.Require().NoError(err)
		again, err := s.service.Register(s.ctx, volunteer, s.event.ID, s.other.ID)
		s.Require().NoError(err)
		s.True(again.Existing)
		s.Equal(first.Registration.ID, again.Registration.ID)
	})

	s.Run("another shift of the same event is a duplicate", func() {
		volunteer := newVolunteer()
		_, err := s.service.Register(s.ctx, volunteer, s.event.ID, s.other.ID)
		s.Require().NoError(err)
		_, err = s.service.Register(s.ctx, volunteer, s.event.ID, s.shift.ID)
		s.True(dErrors.HasReason(err, domain.ReasonDuplicateRegistration))
	})

	s.Run("shift of another event is not found", func() {
		_, err := s.service.Register(s.ctx, newVolunteer(), domain.EventID(uuid.New()), s.shift.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestRegisterRejections() {
	s.Run("event not published", func() {
		s.event.Status = catalog.StatusDraft
		s.Require().NoError(s.catalog.Put(s.ctx, s.event))
		_, err := s.service.Register(s.ctx, newVolunteer(), s.event.ID, s.shift.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(dErrors.HasReason(err, domain.ReasonEventClosed))
	})

	s.Run("deadline passed", func() {
		s.event.Status = catalog.StatusPublished
		s.Require().NoError(s.catalog.Put(s.ctx, s.event))
		late := requestcontext.WithTime(s.ctx, s.event.RegistrationDeadline.Add(time.Second))
		_, err := s.service.Register(late, newVolunteer(), s.event.ID, s.shift.ID)
		s.True(dErrors.HasReason(err, domain.ReasonDeadlinePassed))
	})
}

// TestConcurrentRegistrationsOnFullShift covers three volunteers racing for a
// shift with two slots: two are registered and one is waitlisted.
func (s *ServiceSuite) TestConcurrentRegistrationsOnFullShift() {
	var wg sync.WaitGroup
	results := make([]*RegisterResult, 3)
	errs := make([]error, 3)
	for i := range 3 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.service.Register(s.ctx, newVolunteer(), s.event.ID, s.shift.ID)
		}(i)
	}
	wg.Wait()

	registered, waitlisted := 0, 0
	for i := range 3 {
		s.Require().NoError(errs[i])
		switch results[i].Registration.Status {
		case models.StatusRegistered:
			registered++
		case models.StatusWaitlisted:
			waitlisted++
			s.Equal(1, results[i].Position)
		}
	}
	s.Equal(2, registered)
	s.Equal(1, waitlisted)

	counts, err := s.service.ShiftCounts(s.ctx, s.shift.ID)
	s.Require().NoError(err)
	s.Equal(capacity.Counts{Capacity: 2, Held: 2, Waitlisted: 1}, counts)
}

func (s *ServiceSuite) TestCancelPromotesWaitlist() {
	a := s.register(newVolunteer())
	s.register(newVolunteer())
	w := s.register(newVolunteer())
	s.Require().Equal(models.StatusWaitlisted, w.Registration.Status)

	res, err := s.service.Cancel(s.ctx, a.Registration.ID, organizer)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, res.Registration.Status)
	s.Equal(string(domain.RoleOrganizer), res.Registration.CancelledBy)
	s.Require().NotNil(res.Promoted)
	s.Equal(w.Registration.ID, res.Promoted.ID)
	s.Equal(models.StatusConfirmed, res.Promoted.Status)

	counts, err := s.service.ShiftCounts(s.ctx, s.shift.ID)
	s.Require().NoError(err)
	s.Equal(capacity.Counts{Capacity: 2, Held: 2, Confirmed: 1, Waitlisted: 0}, counts)

	s.Run("cancelling twice is already terminal", func() {
		_, err := s.service.Cancel(s.ctx, a.Registration.ID, organizer)
		s.True(dErrors.HasReason(err, domain.ReasonAlreadyTerminal))
	})
}

// slowCreateStore holds waitlisted creates open until released.
type slowCreateStore struct {
	*registration.InMemoryStore
	entered chan struct{}
	proceed chan struct{}
}

func (st *slowCreateStore) Create(ctx context.Context, r *models.Registration) error {
	if r.Status == models.StatusWaitlisted {
		close(st.entered)
		<-st.proceed
	}
	return st.InMemoryStore.Create(ctx, r)
}

func (s *ServiceSuite) TestPromotionDuringWaitlistedCreate() {
	store := &slowCreateStore{InMemoryStore: s.store, entered: make(chan struct{}), proceed: make(chan struct{})}
	svc := New(store, s.ledger, s.catalog)

	a := s.register(newVolunteer())
	s.register(newVolunteer())

	volunteer := newVolunteer()
	done := make(chan *RegisterResult, 1)
	go func() {
		res, err := svc.Register(s.ctx, volunteer, s.event.ID, s.shift.ID)
		s.NoError(err)
		done <- res
	}()
	<-store.entered

	cancelled, err := svc.Cancel(s.ctx, a.Registration.ID, organizer)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Registration.Status)
	s.Nil(cancelled.Promoted)

	close(store.proceed)
	res := <-done
	s.Require().NotNil(res)
	s.Equal(models.StatusConfirmed, res.Registration.Status)
	s.True(res.Promoted)
	s.Zero(res.Position)

	stored, err := svc.Get(s.ctx, res.Registration.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusConfirmed, stored.Status)

	counts, err := svc.ShiftCounts(s.ctx, s.shift.ID)
	s.Require().NoError(err)
	s.Equal(capacity.Counts{Capacity: 2, Held: 2, Confirmed: 1, Waitlisted: 0}, counts)
}

func (s *ServiceSuite) TestCancelWaitlistedLeavesQueue() {
	s.register(newVolunteer())
	s.register(newVolunteer())
	volunteer := newVolunteer()
	w := s.register(volunteer)

	self := domain.Actor{Subject: volunteer.String(), Role: domain.RoleVolunteer}
	res, err := s.service.Cancel(s.ctx, w.Registration.ID, self)
	s.Require().NoError(err)
	s.Nil(res.Promoted)

	counts, err := s.service.ShiftCounts(s.ctx, s.shift.ID)
	s.Require().NoError(err)
	s.Equal(0, counts.Waitlisted)
	s.Equal(2, counts.Held)
}

func (s *ServiceSuite) TestCancelRules() {
	volunteer := newVolunteer()
	r := s.register(volunteer)

	s.Run("another volunteer cannot cancel", func() {
		stranger := domain.Actor{Subject: newVolunteer().String(), Role: domain.RoleVolunteer}
		_, err := s.service.Cancel(s.ctx, r.Registration.ID, stranger)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("checked in cannot be cancelled", func() {
		_, err := s.service.Confirm(s.ctx, r.Registration.ID, organizer)
		s.Require().NoError(err)
		_, err = s.service.MarkCheckedIn(s.ctx, r.Registration.ID)
		s.Require().NoError(err)

		_, err = s.service.Cancel(s.ctx, r.Registration.ID, organizer)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(dErrors.HasReason(err, domain.ReasonAlreadyTerminal))

		counts, err := s.service.ShiftCounts(s.ctx, s.shift.ID)
		s.Require().NoError(err)
		s.Equal(1, counts.Held)
	})

	s.Run("unknown registration", func() {
		_, err := s.service.Cancel(s.ctx, domain.NewRegistrationID(), organizer)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestConfirm() {
	a := s.register(newVolunteer())
	s.register(newVolunteer())
	w := s.register(newVolunteer())

	s.Run("volunteers cannot confirm", func() {
		_, err := s.service.Confirm(s.ctx, a.Registration.ID, domain.Actor{Subject: "x", Role: domain.RoleVolunteer})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("registered becomes confirmed and is counted", func() {
		reg, err := s.service.Confirm(s.ctx, a.Registration.ID, organizer)
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, reg.Status)

		again, err := s.service.Confirm(s.ctx, a.Registration.ID, organizer)
		s.Require().NoError(err)
		s.Equal(reg.Version, again.Version)

		counts, err := s.service.ShiftCounts(s.ctx, s.shift.ID)
		s.Require().NoError(err)
		s.Equal(1, counts.Confirmed)
	})

	s.Run("waitlisted on a full shift", func() {
		_, err := s.service.Confirm(s.ctx, w.Registration.ID, organizer)
		s.True(dErrors.HasReason(err, domain.ReasonShiftFull))
	})

	s.Run("waitlisted after capacity grows", func() {
		promoted, err := s.service.SetShiftCapacity(s.ctx, s.shift.ID, 3, organizer)
		s.Require().NoError(err)
		s.Require().Len(promoted, 1)
		s.Equal(w.Registration.ID, promoted[0].ID)

		reg, err := s.service.Confirm(s.ctx, w.Registration.ID, organizer)
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, reg.Status)
	})
}

func (s *ServiceSuite) TestConfirmAfterWithdrawal() {
	a := s.register(newVolunteer())
	s.register(newVolunteer())
	w1 := s.register(newVolunteer())
	w2 := s.register(newVolunteer())

	// w1 leaves the queue, so the freed slot goes to w2
	_, err := s.service.Cancel(s.ctx, w1.Registration.ID, organizer)
	s.Require().NoError(err)
	res, err := s.service.Cancel(s.ctx, a.Registration.ID, organizer)
	s.Require().NoError(err)
	s.Require().NotNil(res.Promoted)
	s.Equal(w2.Registration.ID, res.Promoted.ID)

	_, err = s.service.Confirm(s.ctx, w1.Registration.ID, organizer)
	s.True(dErrors.HasReason(err, domain.ReasonAlreadyTerminal))
}

func (s *ServiceSuite) TestSetShiftCapacity() {
	s.register(newVolunteer())
	s.register(newVolunteer())

	s.Run("shrinking below held is refused", func() {
		_, err := s.service.SetShiftCapacity(s.ctx, s.shift.ID, 1, organizer)
		s.True(dErrors.HasReason(err, domain.ReasonCapacityBelowHeld))
	})

	s.Run("volunteers cannot edit capacity", func() {
		_, err := s.service.SetShiftCapacity(s.ctx, s.shift.ID, 10, domain.Actor{Role: domain.RoleVolunteer})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("catalog mirrors the edit", func() {
		_, err := s.service.SetShiftCapacity(s.ctx, s.shift.ID, 4, organizer)
		s.Require().NoError(err)
		_, shift, err := s.catalog.GetShift(s.ctx, s.shift.ID)
		s.Require().NoError(err)
		s.Equal(4, shift.Capacity)
	})
}

func (s *ServiceSuite) TestAttendanceTransitions() {
	r := s.register(newVolunteer())

	_, err := s.service.MarkCheckedIn(s.ctx, r.Registration.ID)
	s.True(dErrors.HasReason(err, domain.ReasonInvalidTransition))

	_, err = s.service.Confirm(s.ctx, r.Registration.ID, organizer)
	s.Require().NoError(err)
	first, err := s.service.MarkCheckedIn(s.ctx, r.Registration.ID)
	s.Require().NoError(err)
	again, err := s.service.MarkCheckedIn(s.ctx, r.Registration.ID)
	s.Require().NoError(err)
	s.Equal(first.Version, again.Version)

	out, err := s.service.MarkCheckedOut(s.ctx, r.Registration.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCheckedOut, out.Status)

	_, err = s.service.MarkNoShow(s.ctx, r.Registration.ID)
	s.True(dErrors.HasReason(err, domain.ReasonAlreadyTerminal))
}

func (s *ServiceSuite) TestSyncLedgerReplay() {
	a := s.register(newVolunteer())
	b := s.register(newVolunteer())
	w := s.register(newVolunteer())
	_, err := s.service.Confirm(s.ctx, b.Registration.ID, organizer)
	s.Require().NoError(err)

	// a fresh process: durable registrations, empty process-local ledger
	fresh := New(s.store, ledger.NewInMemoryLedger(), s.catalog)
	s.Require().NoError(fresh.SyncLedger(s.ctx, true))

	counts, err := fresh.ShiftCounts(s.ctx, s.shift.ID)
	s.Require().NoError(err)
	s.Equal(capacity.Counts{Capacity: 2, Held: 2, Confirmed: 1, Waitlisted: 1}, counts)

	res, err := fresh.Cancel(s.ctx, a.Registration.ID, organizer)
	s.Require().NoError(err)
	s.Require().NotNil(res.Promoted)
	s.Equal(w.Registration.ID, res.Promoted.ID)
}
