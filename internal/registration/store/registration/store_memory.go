package registration

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"roster/internal/registration/models"
	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

type activeKey struct {
	volunteer domain.VolunteerID
	event     domain.EventID
}

// InMemoryStore keeps registrations in memory for tests and single-node dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[domain.RegistrationID]*models.Registration
	active map[activeKey]domain.RegistrationID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[domain.RegistrationID]*models.Registration),
		active: make(map[activeKey]domain.RegistrationID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("registration %s: %w", r.ID, sentinel.ErrAlreadyExists)
	}
	key := activeKey{r.VolunteerID, r.EventID}
	if r.Status.IsActive() {
		if _, ok := s.active[key]; ok {
			return fmt.Errorf("active registration for volunteer: %w", sentinel.ErrAlreadyExists)
		}
		s.active[key] = r.ID
	}
	stored := r.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	r.Version = stored.Version
	s.byID[r.ID] = stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.RegistrationID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) FindActive(_ context.Context, volunteerID domain.VolunteerID, eventID domain.EventID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[activeKey{volunteerID, eventID}]
	if !ok {
		return nil, fmt.Errorf("active registration not found: %w", sentinel.ErrNotFound)
	}
	return s.byID[id].Clone(), nil
}

func (s *InMemoryStore) ListByEvent(_ context.Context, eventID domain.EventID) ([]*models.Registration, error) {
	return s.list(func(r *models.Registration) bool { return r.EventID == eventID }), nil
}

func (s *InMemoryStore) ListByVolunteer(_ context.Context, volunteerID domain.VolunteerID) ([]*models.Registration, error) {
	return s.list(func(r *models.Registration) bool { return r.VolunteerID == volunteerID }), nil
}

// list returns matches ordered by creation time.
func (s *InMemoryStore) list(match func(*models.Registration) bool) []*models.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Registration
	for _, r := range s.byID {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Registration) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}

// Execute runs validate and mutate against the current registration under the
// store lock. Nothing is persisted when validate fails.
func (s *InMemoryStore) Execute(_ context.Context, id domain.RegistrationID, validate func(*models.Registration) error, mutate func(*models.Registration)) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("registration not found: %w", sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return working, err
	}
	mutate(working)
	working.Version = current.Version + 1

	key := activeKey{working.VolunteerID, working.EventID}
	if current.Status.IsActive() && !working.Status.IsActive() {
		delete(s.active, key)
	}
	s.byID[id] = working
	return working.Clone(), nil
}
