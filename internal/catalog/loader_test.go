package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roster/pkg/domain"
)

const sampleCatalog = `
policies:
  default:
    min_attendance_ratio: 0.5
    rounding_increment: 30m
    check_in_grace: 30m
    require_geofence: true
  categories:
    beach-cleanup:
      min_attendance_ratio: 0.75
events:
  - id: 6f1c2b7e-6a4d-4a53-9f39-0d7f8a0c1a11
    name: Marina beach cleanup
    category: beach-cleanup
    status: published
    capacity: 40
    registration_deadline: 2026-11-01T00:00:00Z
    geofence:
      center: {lat: 25.0657, lng: 55.1713}
      radius_meters: 150
    shifts:
      - id: 0b7c1d4e-2f3a-4b5c-8d9e-0f1a2b3c4d5e
        start: 2026-11-07T06:00:00Z
        end: 2026-11-07T09:00:00Z
        capacity: 20
        rrule: FREQ=WEEKLY;COUNT=3
      - id: 9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d
        start: 2026-11-07T15:00:00Z
        end: 2026-11-07T18:00:00Z
        capacity: 10
  - id: 3d2c1b0a-9f8e-4d7c-8b6a-5f4e3d2c1b0a
    name: Food bank sorting
    status: draft
    capacity: 8
    registration_deadline: 2026-11-10T00:00:00Z
    start: 2026-11-12T09:00:00Z
    end: 2026-11-12T13:00:00Z
    geofence:
      center: {lat: 25.2048, lng: 55.2708}
      radius_meters: 100
    policy:
      check_in_grace: 15m
`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, snap.Events, 2)

	t.Run("policies", func(t *testing.T) {
		require.NotNil(t, snap.Defaults.RoundingIncrement)
		assert.Equal(t, 30*time.Minute, *snap.Defaults.RoundingIncrement)
		require.Contains(t, snap.Categories, "beach-cleanup")
		assert.InDelta(t, 0.75, *snap.Categories["beach-cleanup"].MinAttendanceRatio, 1e-9)
	})

	t.Run("recurring shifts expand with stable IDs", func(t *testing.T) {
		beach := snap.Events[0]
		require.Len(t, beach.Shifts, 4)
		for i, want := range []string{"2026-11-07T06:00:00Z", "2026-11-14T06:00:00Z", "2026-11-21T06:00:00Z"} {
			assert.Equal(t, want, beach.Shifts[i].Start.UTC().Format(time.RFC3339))
			assert.Equal(t, 3*time.Hour, beach.Shifts[i].Length())
			assert.Equal(t, 20, beach.Shifts[i].Capacity)
		}
		again, err := Parse([]byte(sampleCatalog))
		require.NoError(t, err)
		assert.Equal(t, beach.Shifts[1].ID, again.Events[0].Shifts[1].ID)
		assert.NotEqual(t, beach.Shifts[0].ID, beach.Shifts[1].ID)
	})

	t.Run("event without shifts gets a single implicit shift", func(t *testing.T) {
		food := snap.Events[1]
		require.Len(t, food.Shifts, 1)
		assert.Equal(t, DefaultShiftID(food.ID), food.Shifts[0].ID)
		assert.Equal(t, 8, food.Shifts[0].Capacity)
		assert.Equal(t, 4*time.Hour, food.Shifts[0].Length())
		require.NotNil(t, food.Policy.CheckInGrace)
		assert.Equal(t, 15*time.Minute, *food.Policy.CheckInGrace)
	})
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "events: []\nbogus: 1\n"},
		{"invalid status", `
events:
  - id: 3d2c1b0a-9f8e-4d7c-8b6a-5f4e3d2c1b0a
    name: x
    status: archived
    registration_deadline: 2026-11-10T00:00:00Z
    start: 2026-11-12T09:00:00Z
    end: 2026-11-12T13:00:00Z
`},
		{"shift ends before start", `
events:
  - id: 3d2c1b0a-9f8e-4d7c-8b6a-5f4e3d2c1b0a
    name: x
    status: published
    registration_deadline: 2026-11-10T00:00:00Z
    shifts:
      - id: 9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d
        start: 2026-11-12T09:00:00Z
        end: 2026-11-12T08:00:00Z
`},
		{"bad rrule", `
events:
  - id: 3d2c1b0a-9f8e-4d7c-8b6a-5f4e3d2c1b0a
    name: x
    status: published
    registration_deadline: 2026-11-10T00:00:00Z
    shifts:
      - id: 9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d
        start: 2026-11-12T09:00:00Z
        end: 2026-11-12T10:00:00Z
        rrule: FREQ=SOMETIMES
`},
		{"ratio out of range", `
policies:
  default:
    min_attendance_ratio: 1.5
events: []
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestInMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	snap, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	c := NewInMemoryCatalog()
	require.NoError(t, snap.Apply(ctx, c))

	beach := snap.Events[0]
	shift := beach.Shifts[3]

	t.Run("shift lookup returns parent event", func(t *testing.T) {
		e, s, err := c.GetShift(ctx, shift.ID)
		require.NoError(t, err)
		assert.Equal(t, beach.ID, e.ID)
		assert.Equal(t, shift, s)
	})

	t.Run("capacity edit is visible and isolated from callers", func(t *testing.T) {
		e, _, err := c.GetShift(ctx, shift.ID)
		require.NoError(t, err)
		e.Shifts[3].Capacity = 999

		require.NoError(t, c.SetShiftCapacity(ctx, shift.ID, 12))
		_, s, err := c.GetShift(ctx, shift.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, s.Capacity)
	})

	t.Run("unknown IDs", func(t *testing.T) {
		_, err := c.GetEvent(ctx, domain.EventID{})
		assert.Error(t, err)
		assert.Error(t, c.SetShiftCapacity(ctx, domain.ShiftID{}, 1))
	})

	t.Run("list ordered by end", func(t *testing.T) {
		events, err := c.ListEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, beach.ID, events[1].ID)
	})
}
