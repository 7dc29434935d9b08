package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"roster/pkg/domain"
	"roster/pkg/platform/sentinel"
)

// InMemoryCatalog holds the events loaded from the catalog file.
type InMemoryCatalog struct {
	mu     sync.RWMutex
	events map[domain.EventID]*Event
	shifts map[domain.ShiftID]domain.EventID
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		events: make(map[domain.EventID]*Event),
		shifts: make(map[domain.ShiftID]domain.EventID),
	}
}

// Put stores an event, replacing any previous version. Shift IDs must be
// unique across events.
func (c *InMemoryCatalog) Put(_ context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range event.Shifts {
		if owner, ok := c.shifts[s.ID]; ok && owner != event.ID {
			return fmt.Errorf("shift %s already belongs to event %s: %w", s.ID, owner, sentinel.ErrAlreadyExists)
		}
	}
	if prev, ok := c.events[event.ID]; ok {
		for _, s := range prev.Shifts {
			delete(c.shifts, s.ID)
		}
	}
	stored := cloneEvent(event)
	c.events[event.ID] = stored
	for _, s := range stored.Shifts {
		c.shifts[s.ID] = stored.ID
	}
	return nil
}

func (c *InMemoryCatalog) GetEvent(_ context.Context, id domain.EventID) (*Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.events[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (c *InMemoryCatalog) GetShift(_ context.Context, id domain.ShiftID) (*Event, Shift, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eventID, ok := c.shifts[id]
	if !ok {
		return nil, Shift{}, sentinel.ErrNotFound
	}
	e := cloneEvent(c.events[eventID])
	s, _ := e.Shift(id)
	return e, s, nil
}

func (c *InMemoryCatalog) ListEvents(_ context.Context) ([]*Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Event, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, cloneEvent(e))
	}
	slices.SortFunc(out, func(a, b *Event) int {
		return a.Ends().Compare(b.Ends())
	})
	return out, nil
}

func (c *InMemoryCatalog) SetShiftCapacity(_ context.Context, id domain.ShiftID, capacity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	eventID, ok := c.shifts[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	e := c.events[eventID]
	for i := range e.Shifts {
		if e.Shifts[i].ID == id {
			e.Shifts[i].Capacity = capacity
		}
	}
	return nil
}

func cloneEvent(e *Event) *Event {
	cp := *e
	cp.Shifts = slices.Clone(e.Shifts)
	return &cp
}
