package service

import (
	"context"
	"errors"

	"roster/internal/capacity"
	"roster/internal/registration/models"
	dErrors "roster/pkg/domain-errors"
)

// SyncLedger defines every catalog shift in the ledger. With replay set, it
// also rebuilds holders and waitlists from persisted registrations, oldest
// first; this is needed when the ledger is process-local but registrations
// are durable.
func (s *Service) SyncLedger(ctx context.Context, replay bool) error {
	events, err := s.catalog.ListEvents(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	for _, e := range events {
		for _, sh := range e.Shifts {
			if err := s.ledger.Define(ctx, sh.ID, e.ID, sh.Capacity); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to define shift")
			}
		}
		if !replay {
			continue
		}
		regs, err := s.store.ListByEvent(ctx, e.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
		}
		// holders first so a waitlisted entry never takes a slot that
		// belongs to an existing holder
		for _, r := range regs {
			if !r.Status.HoldsSlot() {
				continue
			}
			if _, err := s.ledger.TryReserve(ctx, r.ShiftID, r.ID, r.Status != models.StatusRegistered); err != nil && !errors.Is(err, capacity.ErrUnknownShift) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to replay registration")
			}
		}
		for _, r := range regs {
			if r.Status != models.StatusWaitlisted {
				continue
			}
			res, err := s.ledger.TryReserve(ctx, r.ShiftID, r.ID, true)
			if err != nil {
				if errors.Is(err, capacity.ErrUnknownShift) {
					continue
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to replay waitlist")
			}
			if res.OK && !res.Existing {
				// a slot freed before the promotion was recorded
				if _, err := s.applyPromotion(ctx, r.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
