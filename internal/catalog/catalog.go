// Package catalog is the read model of events and shifts owned by event
// management. The participation engine only reads it, apart from organizer
// capacity edits which are mirrored here.
package catalog

import (
	"context"

	"roster/pkg/domain"
)

// Catalog resolves events and shifts.
type Catalog interface {
	GetEvent(ctx context.Context, id domain.EventID) (*Event, error)
	// GetShift returns the shift together with its parent event.
	GetShift(ctx context.Context, id domain.ShiftID) (*Event, Shift, error)
	ListEvents(ctx context.Context) ([]*Event, error)
	SetShiftCapacity(ctx context.Context, id domain.ShiftID, capacity int) error
}
