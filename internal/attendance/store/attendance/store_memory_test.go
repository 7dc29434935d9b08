package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"roster/internal/attendance/models"
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
	s.now = time.Date(2026, 11, 7, 6, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newRecord(eventID domain.EventID) *models.Record {
	return &models.Record{
		RegistrationID: domain.NewRegistrationID(),
		EventID:        eventID,
		ShiftID:        domain.ShiftID(uuid.New()),
		VolunteerID:    domain.VolunteerID(uuid.New()),
		CheckIn:        models.Punch{At: s.now},
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
}

func (s *InMemoryStoreSuite) TestCreateOnce() {
	r := s.newRecord(domain.EventID(uuid.New()))
	s.Require().NoError(s.store.Create(s.ctx, r))
	s.Equal(1, r.Revision)
	s.ErrorIs(s.store.Create(s.ctx, r), sentinel.ErrAlreadyExists)

	_, err := s.store.Latest(s.ctx, domain.NewRegistrationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestRevisions() {
	r := s.newRecord(domain.EventID(uuid.New()))
	s.Require().NoError(s.store.Create(s.ctx, r))

	s.Run("open record updates in place", func() {
		updated, err := s.store.Execute(s.ctx, r.RegistrationID,
			func(*models.Record) error { return nil },
			func(rec *models.Record) {
				rec.BeginRevision(s.now)
				rec.Finalize(models.Punch{At: s.now.Add(2 * time.Hour)}, s.now.Add(2*time.Hour))
			},
		)
		s.Require().NoError(err)
		s.Equal(1, updated.Revision)
		s.Equal(2*time.Hour, updated.Duration)
	})

	s.Run("finalized record rejects in-place edits", func() {
		_, err := s.store.Execute(s.ctx, r.RegistrationID,
			func(*models.Record) error { return nil },
			func(rec *models.Record) { rec.Duration = time.Hour },
		)
		s.ErrorIs(err, ErrFinalized)
	})

	s.Run("corrections append a superseding revision", func() {
		updated, err := s.store.Execute(s.ctx, r.RegistrationID,
			func(*models.Record) error { return nil },
			func(rec *models.Record) {
				rec.BeginRevision(s.now.Add(3 * time.Hour))
				rec.Overrides = append(rec.Overrides, models.Override{Flag: models.FlagGeofenceViolation})
			},
		)
		s.Require().NoError(err)
		s.Equal(2, updated.Revision)
		s.Equal(1, updated.Supersedes)

		history, err := s.store.History(s.ctx, r.RegistrationID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Empty(history[0].Overrides)
		s.Len(history[1].Overrides, 1)
	})

	s.Run("skipping revisions is stale", func() {
		_, err := s.store.Execute(s.ctx, r.RegistrationID,
			func(*models.Record) error { return nil },
			func(rec *models.Record) { rec.Revision += 2 },
		)
		s.ErrorIs(err, sentinel.ErrStaleVersion)
	})
}

func (s *InMemoryStoreSuite) TestListByEventReturnsLatest() {
	eventID := domain.EventID(uuid.New())
	a := s.newRecord(eventID)
	b := s.newRecord(eventID)
	s.Require().NoError(s.store.Create(s.ctx, a))
	s.Require().NoError(s.store.Create(s.ctx, b))
	s.Require().NoError(s.store.Create(s.ctx, s.newRecord(domain.EventID(uuid.New()))))

	_, err := s.store.Execute(s.ctx, a.RegistrationID,
		func(*models.Record) error { return nil },
		func(rec *models.Record) { rec.Finalize(models.Punch{At: s.now.Add(time.Hour)}, s.now) },
	)
	s.Require().NoError(err)

	list, err := s.store.ListByEvent(s.ctx, eventID)
	s.Require().NoError(err)
	s.Len(list, 2)
	for _, rec := range list {
		if rec.RegistrationID == a.RegistrationID {
			s.True(rec.Finalized)
		}
	}
}
