package ledger

import (
	"context"
	"slices"
	"sync"

	"roster/internal/capacity"
	"roster/pkg/domain"
)

// InMemoryLedger implements capacity.Ledger with one mutex per shift, so
// reservations on different shifts never contend.
// Not shared across processes; use RedisLedger for multi-instance deployments.
type InMemoryLedger struct {
	mu     sync.RWMutex
	shifts map[domain.ShiftID]*shiftSlots
	events map[domain.EventID][]domain.ShiftID
}

type shiftSlots struct {
	mu       sync.Mutex
	capacity int
	// holders maps a registration to whether its slot is confirmed.
	holders  map[domain.RegistrationID]bool
	waitlist []domain.RegistrationID
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		shifts: make(map[domain.ShiftID]*shiftSlots),
		events: make(map[domain.EventID][]domain.ShiftID),
	}
}

// Define registers a shift. Redefining an existing shift is a no-op so that
// reloading the catalog never resets live counts.
func (l *InMemoryLedger) Define(_ context.Context, shiftID domain.ShiftID, eventID domain.EventID, slots int) error {
	if slots < 0 {
		return capacity.ErrInvalidCapacity
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.shifts[shiftID]; ok {
		return nil
	}
	l.shifts[shiftID] = &shiftSlots{
		capacity: slots,
		holders:  make(map[domain.RegistrationID]bool),
	}
	l.events[eventID] = append(l.events[eventID], shiftID)
	return nil
}

func (l *InMemoryLedger) TryReserve(_ context.Context, shiftID domain.ShiftID, regID domain.RegistrationID, confirmed bool) (capacity.Reservation, error) {
	s, err := l.shift(shiftID)
	if err != nil {
		return capacity.Reservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holders[regID]; ok {
		return capacity.Reservation{OK: true, Existing: true}, nil
	}
	if i := slices.Index(s.waitlist, regID); i >= 0 {
		return capacity.Reservation{Waitlisted: true, Position: i + 1, Existing: true}, nil
	}
	if len(s.holders) < s.capacity {
		s.holders[regID] = confirmed
		return capacity.Reservation{OK: true}, nil
	}
	s.waitlist = append(s.waitlist, regID)
	return capacity.Reservation{Waitlisted: true, Position: len(s.waitlist)}, nil
}

// Release frees regID's slot and promotes the waitlist head in the same
// critical section. Releasing a registration that holds no slot is a no-op.
func (l *InMemoryLedger) Release(_ context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) (capacity.ReleaseResult, error) {
	s, err := l.shift(shiftID)
	if err != nil {
		return capacity.ReleaseResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holders[regID]; !ok {
		return capacity.ReleaseResult{}, nil
	}
	delete(s.holders, regID)
	return capacity.ReleaseResult{Released: true, Promoted: s.promoteLocked()}, nil
}

func (l *InMemoryLedger) PromoteFromWaitlist(_ context.Context, shiftID domain.ShiftID) (*domain.RegistrationID, error) {
	s, err := l.shift(shiftID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promoteLocked(), nil
}

func (l *InMemoryLedger) Withdraw(_ context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) (bool, error) {
	s, err := l.shift(shiftID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.waitlist, regID)
	if i < 0 {
		return false, nil
	}
	s.waitlist = slices.Delete(s.waitlist, i, i+1)
	return true, nil
}

// Claim moves regID into a confirmed slot, taking it off the waitlist if it
// was queued. A registration that already holds a slot is just confirmed.
func (l *InMemoryLedger) Claim(_ context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) error {
	s, err := l.shift(shiftID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holders[regID]; ok {
		s.holders[regID] = true
		return nil
	}
	if len(s.holders) >= s.capacity {
		return capacity.ErrShiftFull
	}
	if i := slices.Index(s.waitlist, regID); i >= 0 {
		s.waitlist = slices.Delete(s.waitlist, i, i+1)
	}
	s.holders[regID] = true
	return nil
}

func (l *InMemoryLedger) MarkConfirmed(_ context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) error {
	s, err := l.shift(shiftID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holders[regID]; !ok {
		return capacity.ErrNotHeld
	}
	s.holders[regID] = true
	return nil
}

// Resize changes the capacity of a shift. Growth promotes waitlisted
// registrations in FIFO order; the promoted IDs are returned.
func (l *InMemoryLedger) Resize(_ context.Context, shiftID domain.ShiftID, newCapacity int) ([]domain.RegistrationID, error) {
	if newCapacity < 0 {
		return nil, capacity.ErrInvalidCapacity
	}
	s, err := l.shift(shiftID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if newCapacity < len(s.holders) {
		return nil, capacity.ErrCapacityBelowHeld
	}
	s.capacity = newCapacity
	var promoted []domain.RegistrationID
	for {
		id := s.promoteLocked()
		if id == nil {
			break
		}
		promoted = append(promoted, *id)
	}
	return promoted, nil
}

func (l *InMemoryLedger) Counts(_ context.Context, shiftID domain.ShiftID) (capacity.Counts, error) {
	s, err := l.shift(shiftID)
	if err != nil {
		return capacity.Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countsLocked(), nil
}

func (l *InMemoryLedger) EventCounts(ctx context.Context, eventID domain.EventID) (capacity.Counts, error) {
	l.mu.RLock()
	ids := slices.Clone(l.events[eventID])
	l.mu.RUnlock()

	var total capacity.Counts
	for _, id := range ids {
		c, err := l.Counts(ctx, id)
		if err != nil {
			return capacity.Counts{}, err
		}
		total = total.Add(c)
	}
	return total, nil
}

func (l *InMemoryLedger) shift(id domain.ShiftID) (*shiftSlots, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.shifts[id]
	if !ok {
		return nil, capacity.ErrUnknownShift
	}
	return s, nil
}

// promoteLocked moves the waitlist head into a confirmed slot if one is free.
// Must be called while holding s.mu.
func (s *shiftSlots) promoteLocked() *domain.RegistrationID {
	if len(s.holders) >= s.capacity || len(s.waitlist) == 0 {
		return nil
	}
	head := s.waitlist[0]
	s.waitlist = s.waitlist[1:]
	s.holders[head] = true
	return &head
}

func (s *shiftSlots) countsLocked() capacity.Counts {
	confirmed := 0
	for _, c := range s.holders {
		if c {
			confirmed++
		}
	}
	return capacity.Counts{
		Capacity:   s.capacity,
		Held:       len(s.holders),
		Confirmed:  confirmed,
		Waitlisted: len(s.waitlist),
	}
}
