package attendance

import (
	"context"
	"fmt"
	"sync"

	"roster/internal/attendance/models"
	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

// InMemoryStore keeps every revision of every record.
type InMemoryStore struct {
	mu        sync.RWMutex
	revisions map[domain.RegistrationID][]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{revisions: make(map[domain.RegistrationID][]*models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.revisions[r.RegistrationID]) > 0 {
		return fmt.Errorf("attendance record: %w", sentinel.ErrAlreadyExists)
	}
	if r.Revision == 0 {
		r.Revision = 1
	}
	s.revisions[r.RegistrationID] = []*models.Record{r.Clone()}
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context, id domain.RegistrationID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := s.revisions[id]
	if len(revs) == 0 {
		return nil, fmt.Errorf("attendance record not found: %w", sentinel.ErrNotFound)
	}
	return revs[len(revs)-1].Clone(), nil
}

func (s *InMemoryStore) History(_ context.Context, id domain.RegistrationID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := s.revisions[id]
	if len(revs) == 0 {
		return nil, fmt.Errorf("attendance record not found: %w", sentinel.ErrNotFound)
	}
	out := make([]*models.Record, len(revs))
	for i, r := range revs {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) ListByEvent(_ context.Context, eventID domain.EventID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, revs := range s.revisions {
		latest := revs[len(revs)-1]
		if latest.EventID == eventID {
			out = append(out, latest.Clone())
		}
	}
	return out, nil
}

// Execute applies a change to the latest revision. When mutate advanced the
// revision the result is appended; otherwise the open revision is replaced.
func (s *InMemoryStore) Execute(_ context.Context, id domain.RegistrationID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revs := s.revisions[id]
	if len(revs) == 0 {
		return nil, fmt.Errorf("attendance record not found: %w", sentinel.ErrNotFound)
	}
	latest := revs[len(revs)-1]
	working := latest.Clone()
	if err := validate(working); err != nil {
		return working, err
	}
	mutate(working)

	switch working.Revision {
	case latest.Revision:
		if latest.Finalized {
			return nil, ErrFinalized
		}
		revs[len(revs)-1] = working
	case latest.Revision + 1:
		s.revisions[id] = append(revs, working)
	default:
		return nil, fmt.Errorf("revision %d after %d: %w", working.Revision, latest.Revision, sentinel.ErrStaleVersion)
	}
	return working.Clone(), nil
}
