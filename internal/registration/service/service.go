package service

import (
	"context"
	"errors"
	"log/slog"

	"roster/internal/capacity"
	"roster/internal/catalog"
	"roster/internal/registration/models"
	"roster/internal/registration/store/registration"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/platform/sentinel"
	"roster/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, r *models.Registration) error
	FindByID(ctx context.Context, id domain.RegistrationID) (*models.Registration, error)
	FindActive(ctx context.Context, volunteerID domain.VolunteerID, eventID domain.EventID) (*models.Registration, error)
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]*models.Registration, error)
	ListByVolunteer(ctx context.Context, volunteerID domain.VolunteerID) ([]*models.Registration, error)
	Execute(ctx context.Context, id domain.RegistrationID, validate func(*models.Registration) error, mutate func(*models.Registration)) (*models.Registration, error)
}

// Service owns the registration state machine and is the only caller that
// changes shift counts.
type Service struct {
	store   Store
	ledger  capacity.Ledger
	catalog catalog.Catalog
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, ledger capacity.Ledger, cat catalog.Catalog, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger, catalog: cat}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterResult is the outcome of Register. Position is the 1-based waitlist
// position when the registration was waitlisted. Existing is true when an
// identical active registration was returned instead of creating one.
// Promoted is true when a release promoted the registration off the waitlist
// before Register returned.
type RegisterResult struct {
	Registration *models.Registration
	Position     int
	Existing     bool
	Promoted     bool
}

// CancelResult carries the cancelled registration and the waitlisted
// registration promoted into its slot, if any.
type CancelResult struct {
	Registration *models.Registration
	Promoted     *models.Registration
}

// Register reserves a slot on shiftID for the volunteer, or queues them on
// the shift's waitlist when it is full.
func (s *Service) Register(ctx context.Context, volunteerID domain.VolunteerID, eventID domain.EventID, shiftID domain.ShiftID) (*RegisterResult, error) {
	event, shift, err := s.catalog.GetShift(ctx, shiftID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "shift not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shift")
	}
	if event.ID != eventID {
		return nil, dErrors.New(dErrors.CodeNotFound, "shift not found for event")
	}
	if !event.Status.AcceptsRegistrations() {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonEventClosed,
			"event is "+string(event.Status))
	}
	now := requestcontext.Now(ctx)
	if now.After(event.RegistrationDeadline) {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonDeadlinePassed,
			"registration deadline has passed")
	}

	if existing, err := s.existingActive(ctx, volunteerID, eventID, shiftID); existing != nil || err != nil {
		return existing, err
	}

	id := domain.NewRegistrationID()
	autoConfirm := !event.RequiresApproval
	res, err := s.reserve(ctx, shift, id, autoConfirm)
	if err != nil {
		return nil, err
	}

	reg := &models.Registration{
		ID:          id,
		VolunteerID: volunteerID,
		EventID:     eventID,
		ShiftID:     shiftID,
		Status:      models.StatusRegistered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch {
	case res.Waitlisted:
		reg.Status = models.StatusWaitlisted
	case autoConfirm:
		reg.ApplyTransition(models.StatusConfirmed, now)
	}

	if err := s.store.Create(ctx, reg); err != nil {
		s.compensateReservation(ctx, shiftID, id, res)
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			// lost a race against a concurrent register for the same pair
			if existing, lookupErr := s.existingActive(ctx, volunteerID, eventID, shiftID); existing != nil || lookupErr != nil {
				return existing, lookupErr
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registration")
	}
	promoted := false
	if res.Waitlisted {
		reg, res = s.settleEarlyPromotion(ctx, reg, res)
		promoted = reg.Status == models.StatusConfirmed
	}

	s.logAudit(ctx, "registration_created",
		"registration_id", reg.ID,
		"volunteer_id", volunteerID,
		"shift_id", shiftID,
		"status", reg.Status)
	return &RegisterResult{Registration: reg, Position: res.Position, Promoted: promoted}, nil
}

// existingActive returns the volunteer's active registration on shiftID as an
// idempotent result, or a duplicate error if it is on another shift.
func (s *Service) existingActive(ctx context.Context, volunteerID domain.VolunteerID, eventID domain.EventID, shiftID domain.ShiftID) (*RegisterResult, error) {
	existing, err := s.store.FindActive(ctx, volunteerID, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registrations")
	}
	if existing.ShiftID != shiftID {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonDuplicateRegistration,
			"volunteer already registered for another shift of this event")
	}
	return &RegisterResult{Registration: existing, Existing: true}, nil
}

func (s *Service) reserve(ctx context.Context, shift catalog.Shift, id domain.RegistrationID, confirmed bool) (capacity.Reservation, error) {
	res, err := s.ledger.TryReserve(ctx, shift.ID, id, confirmed)
	if errors.Is(err, capacity.ErrUnknownShift) {
		if err := s.ledger.Define(ctx, shift.ID, shift.EventID, shift.Capacity); err != nil {
			return capacity.Reservation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to define shift")
		}
		res, err = s.ledger.TryReserve(ctx, shift.ID, id, confirmed)
	}
	if err != nil {
		return capacity.Reservation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve slot")
	}
	return res, nil
}

// settleEarlyPromotion applies a promotion the ledger made while reg was
// being stored. A release in that window finds no record to confirm and
// leaves the promotion to this call.
func (s *Service) settleEarlyPromotion(ctx context.Context, reg *models.Registration, res capacity.Reservation) (*models.Registration, capacity.Reservation) {
	again, err := s.ledger.TryReserve(ctx, reg.ShiftID, reg.ID, false)
	if err != nil {
		s.logError(ctx, "failed to recheck waitlist entry", "registration_id", reg.ID, "error", err)
		return reg, res
	}
	if !again.Existing {
		// the entry left the ledger concurrently; the recheck must not re-add it
		s.compensateReservation(ctx, reg.ShiftID, reg.ID, again)
		return reg, res
	}
	if !again.OK {
		return reg, again
	}
	promoted, err := s.applyPromotion(ctx, reg.ID)
	if err != nil {
		s.logError(ctx, "failed to apply deferred promotion", "registration_id", reg.ID, "error", err)
		return reg, res
	}
	if promoted != nil {
		reg = promoted
	}
	return reg, capacity.Reservation{OK: true, Existing: true}
}

func (s *Service) compensateReservation(ctx context.Context, shiftID domain.ShiftID, id domain.RegistrationID, res capacity.Reservation) {
	var err error
	if res.Waitlisted {
		var removed bool
		removed, err = s.ledger.Withdraw(ctx, shiftID, id)
		if err == nil && !removed {
			var rel capacity.ReleaseResult
			rel, err = s.ledger.Release(ctx, shiftID, id)
			if err == nil && rel.Promoted != nil {
				_, err = s.applyPromotion(ctx, *rel.Promoted)
			}
		}
	} else {
		var rel capacity.ReleaseResult
		rel, err = s.ledger.Release(ctx, shiftID, id)
		if err == nil && rel.Promoted != nil {
			_, err = s.applyPromotion(ctx, *rel.Promoted)
		}
	}
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to compensate reservation",
			"registration_id", id, "shift_id", shiftID, "error", err)
	}
}

// Cancel cancels a registration and frees its slot. When the slot is freed,
// the earliest waitlisted registration on the shift is promoted in the same
// ledger step and returned in the result.
func (s *Service) Cancel(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*CancelResult, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(current.VolunteerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot cancel another volunteer's registration")
	}

	var previous models.Status
	now := requestcontext.Now(ctx)
	reg, err := s.store.Execute(ctx, id,
		func(r *models.Registration) error {
			previous = r.Status
			if r.Status == models.StatusCancelled {
				return dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonAlreadyTerminal, "registration is already cancelled")
			}
			return r.CanTransition(models.StatusCancelled)
		},
		func(r *models.Registration) {
			r.ApplyTransition(models.StatusCancelled, now)
			r.CancelledBy = string(actor.Role)
		},
	)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to cancel registration")
	}

	result := &CancelResult{Registration: reg}
	var rel capacity.ReleaseResult
	if previous == models.StatusWaitlisted {
		removed, err := s.ledger.Withdraw(ctx, reg.ShiftID, id)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to leave waitlist")
		}
		if !removed {
			// promoted by the ledger before the promotion was applied here
			if rel, err = s.ledger.Release(ctx, reg.ShiftID, id); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to release slot")
			}
		}
	} else {
		if rel, err = s.ledger.Release(ctx, reg.ShiftID, id); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to release slot")
		}
	}
	if rel.Promoted != nil {
		promoted, err := s.applyPromotion(ctx, *rel.Promoted)
		if err != nil {
			return nil, err
		}
		result.Promoted = promoted
	}

	s.logAudit(ctx, "registration_cancelled",
		"registration_id", id,
		"previous_status", previous,
		"cancelled_by", actor.Role)
	return result, nil
}

// applyPromotion confirms a registration the ledger moved off the waitlist.
// Returns nil when the registration is no longer waitlisted.
func (s *Service) applyPromotion(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	now := requestcontext.Now(ctx)
	reg, err := s.store.Execute(ctx, id,
		func(r *models.Registration) error {
			if r.Status != models.StatusWaitlisted {
				return registration.ErrSkip
			}
			return nil
		},
		func(r *models.Registration) { r.ApplyTransition(models.StatusConfirmed, now) },
	)
	if errors.Is(err, registration.ErrSkip) {
		return nil, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		// not stored yet; Register settles the promotion once it is
		s.logAudit(ctx, "registration_promotion_deferred", "registration_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, s.translateStoreError(err, "failed to apply promotion")
	}
	s.logAudit(ctx, "registration_promoted",
		"registration_id", id,
		"shift_id", reg.ShiftID)
	return reg, nil
}

// Confirm approves a registered or waitlisted registration. Confirming a
// waitlisted registration claims a free slot and fails with shift_full when
// none is available. Confirming a confirmed registration is a no-op.
func (s *Service) Confirm(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*models.Registration, error) {
	if !actor.IsOrganizer() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only organizers can confirm registrations")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case models.StatusConfirmed:
		return current, nil
	case models.StatusWaitlisted:
		if err := s.ledger.Claim(ctx, current.ShiftID, id); err != nil {
			if errors.Is(err, capacity.ErrShiftFull) {
				return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonShiftFull, "shift has no free slot")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim slot")
		}
	case models.StatusRegistered:
	default:
		return nil, current.CanTransition(models.StatusConfirmed)
	}

	now := requestcontext.Now(ctx)
	reg, err := s.store.Execute(ctx, id,
		func(r *models.Registration) error { return r.CanTransition(models.StatusConfirmed) },
		func(r *models.Registration) { r.ApplyTransition(models.StatusConfirmed, now) },
	)
	if err != nil {
		if current.Status == models.StatusWaitlisted {
			// the registration moved on concurrently; give the claimed slot back
			s.compensateReservation(ctx, current.ShiftID, id, capacity.Reservation{OK: true})
		}
		return nil, s.translateStoreError(err, "failed to confirm registration")
	}
	if current.Status == models.StatusRegistered {
		if err := s.ledger.MarkConfirmed(ctx, reg.ShiftID, id); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "ledger confirmation bookkeeping failed",
				"registration_id", id, "error", err)
		}
	}
	s.logAudit(ctx, "registration_confirmed", "registration_id", id)
	return reg, nil
}

func (s *Service) Get(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	reg, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to load registration")
	}
	return reg, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID domain.EventID) ([]*models.Registration, error) {
	regs, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
	}
	return regs, nil
}

func (s *Service) ListByVolunteer(ctx context.Context, volunteerID domain.VolunteerID) ([]*models.Registration, error) {
	regs, err := s.store.ListByVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
	}
	return regs, nil
}

// MarkCheckedIn, MarkCheckedOut and MarkNoShow are the attendance-driven
// transitions. They are idempotent when the registration is already there.
func (s *Service) MarkCheckedIn(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	return s.transition(ctx, id, models.StatusCheckedIn)
}

func (s *Service) MarkCheckedOut(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	return s.transition(ctx, id, models.StatusCheckedOut)
}

func (s *Service) MarkNoShow(ctx context.Context, id domain.RegistrationID) (*models.Registration, error) {
	return s.transition(ctx, id, models.StatusNoShow)
}

func (s *Service) transition(ctx context.Context, id domain.RegistrationID, to models.Status) (*models.Registration, error) {
	now := requestcontext.Now(ctx)
	reg, err := s.store.Execute(ctx, id,
		func(r *models.Registration) error {
			if r.Status == to {
				return registration.ErrSkip
			}
			return r.CanTransition(to)
		},
		func(r *models.Registration) { r.ApplyTransition(to, now) },
	)
	if errors.Is(err, registration.ErrSkip) {
		return reg, nil
	}
	if err != nil {
		return nil, s.translateStoreError(err, "failed to update registration")
	}
	return reg, nil
}

// SetShiftCapacity applies an organizer capacity edit. The edit is refused
// while more slots are held than the new capacity; growth promotes waitlisted
// registrations in arrival order.
func (s *Service) SetShiftCapacity(ctx context.Context, shiftID domain.ShiftID, newCapacity int, actor domain.Actor) ([]*models.Registration, error) {
	if !actor.IsOrganizer() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only organizers can edit capacity")
	}
	if newCapacity < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "capacity must not be negative")
	}
	_, shift, err := s.catalog.GetShift(ctx, shiftID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "shift not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shift")
	}
	if err := s.ledger.Define(ctx, shift.ID, shift.EventID, shift.Capacity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to define shift")
	}

	promotedIDs, err := s.ledger.Resize(ctx, shiftID, newCapacity)
	if err != nil {
		if errors.Is(err, capacity.ErrCapacityBelowHeld) {
			return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonCapacityBelowHeld,
				"more slots are held than the new capacity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resize shift")
	}
	if err := s.catalog.SetShiftCapacity(ctx, shiftID, newCapacity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record capacity")
	}

	var promoted []*models.Registration
	for _, id := range promotedIDs {
		reg, err := s.applyPromotion(ctx, id)
		if err != nil {
			return promoted, err
		}
		if reg != nil {
			promoted = append(promoted, reg)
		}
	}
	s.logAudit(ctx, "shift_capacity_changed",
		"shift_id", shiftID,
		"capacity", newCapacity,
		"promoted", len(promoted))
	return promoted, nil
}

func (s *Service) ShiftCounts(ctx context.Context, shiftID domain.ShiftID) (capacity.Counts, error) {
	counts, err := s.ledger.Counts(ctx, shiftID)
	if errors.Is(err, capacity.ErrUnknownShift) {
		return capacity.Counts{}, dErrors.New(dErrors.CodeNotFound, "shift not found")
	}
	if err != nil {
		return capacity.Counts{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read counts")
	}
	return counts, nil
}

func (s *Service) translateStoreError(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "registration not found")
	case errors.Is(err, sentinel.ErrStaleVersion):
		return dErrors.Wrap(err, dErrors.CodeConflict, "registration was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) logError(ctx context.Context, msg string, attributes ...any) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, attributes...)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
