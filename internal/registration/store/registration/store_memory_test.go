package registration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"roster/internal/registration/models"
	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newRegistration(volunteer domain.VolunteerID, event domain.EventID) *models.Registration {
	return &models.Registration{
		ID:          domain.NewRegistrationID(),
		VolunteerID: volunteer,
		EventID:     event,
		ShiftID:     domain.ShiftID(uuid.New()),
		Status:      models.StatusRegistered,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
}

func (s *InMemoryStoreSuite) TestCreate() {
	volunteer := domain.VolunteerID(uuid.New())
	event := domain.EventID(uuid.New())

	first := s.newRegistration(volunteer, event)
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Equal(1, first.Version)

	s.Run("second active registration for the same event is rejected", func() {
		err := s.store.Create(s.ctx, s.newRegistration(volunteer, event))
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("other events are independent", func() {
		s.NoError(s.store.Create(s.ctx, s.newRegistration(volunteer, domain.EventID(uuid.New()))))
	})

	s.Run("cancelling frees the active slot", func() {
		_, err := s.store.Execute(s.ctx, first.ID,
			func(r *models.Registration) error { return r.CanTransition(models.StatusCancelled) },
			func(r *models.Registration) { r.ApplyTransition(models.StatusCancelled, s.now) },
		)
		s.Require().NoError(err)
		s.NoError(s.store.Create(s.ctx, s.newRegistration(volunteer, event)))
	})
}

func (s *InMemoryStoreSuite) TestFind() {
	volunteer := domain.VolunteerID(uuid.New())
	event := domain.EventID(uuid.New())
	r := s.newRegistration(volunteer, event)
	s.Require().NoError(s.store.Create(s.ctx, r))

	got, err := s.store.FindActive(s.ctx, volunteer, event)
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)

	_, err = s.store.FindByID(s.ctx, domain.NewRegistrationID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindActive(s.ctx, volunteer, domain.EventID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("returned values are copies", func() {
		got.Status = models.StatusCheckedOut
		again, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRegistered, again.Status)
	})
}

func (s *InMemoryStoreSuite) TestListOrderedByCreation() {
	event := domain.EventID(uuid.New())
	var ids []domain.RegistrationID
	for i := range 3 {
		r := s.newRegistration(domain.VolunteerID(uuid.New()), event)
		r.CreatedAt = s.now.Add(time.Duration(2-i) * time.Minute)
		s.Require().NoError(s.store.Create(s.ctx, r))
		ids = append([]domain.RegistrationID{r.ID}, ids...)
	}

	list, err := s.store.ListByEvent(s.ctx, event)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	for i, r := range list {
		s.Equal(ids[i], r.ID)
	}
}

func (s *InMemoryStoreSuite) TestExecute() {
	r := s.newRegistration(domain.VolunteerID(uuid.New()), domain.EventID(uuid.New()))
	s.Require().NoError(s.store.Create(s.ctx, r))

	s.Run("validation failure persists nothing", func() {
		boom := errors.New("boom")
		_, err := s.store.Execute(s.ctx, r.ID,
			func(*models.Registration) error { return boom },
			func(r *models.Registration) { r.Status = models.StatusConfirmed },
		)
		s.ErrorIs(err, boom)
		got, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRegistered, got.Status)
		s.Equal(1, got.Version)
	})

	s.Run("successful update bumps version", func() {
		updated, err := s.store.Execute(s.ctx, r.ID,
			func(r *models.Registration) error { return r.CanTransition(models.StatusConfirmed) },
			func(r *models.Registration) { r.ApplyTransition(models.StatusConfirmed, s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, updated.Status)
		s.Equal(2, updated.Version)
	})

	s.Run("unknown registration", func() {
		_, err := s.store.Execute(s.ctx, domain.NewRegistrationID(),
			func(*models.Registration) error { return nil },
			func(*models.Registration) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentExecuteSingleWinner checks that concurrent transitions out of
// the same state are serialized: exactly one succeeds.
func (s *InMemoryStoreSuite) TestConcurrentExecuteSingleWinner() {
	r := s.newRegistration(domain.VolunteerID(uuid.New()), domain.EventID(uuid.New()))
	r.Status = models.StatusConfirmed
	s.Require().NoError(s.store.Create(s.ctx, r))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, r.ID,
				func(r *models.Registration) error {
					if r.Status != models.StatusConfirmed {
						return ErrSkip
					}
					return nil
				},
				func(r *models.Registration) { r.ApplyTransition(models.StatusCheckedIn, s.now) },
			)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	got, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(2, got.Version)
}
