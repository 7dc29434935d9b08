package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"roster/internal/attendance/models"
	"roster/internal/attendance/store/attendance"
	"roster/internal/catalog"
	"roster/internal/geo"
	"roster/internal/policy"
	regmodels "roster/internal/registration/models"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/platform/sentinel"
	"roster/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, r *models.Record) error
	Latest(ctx context.Context, id domain.RegistrationID) (*models.Record, error)
	History(ctx context.Context, id domain.RegistrationID) ([]*models.Record, error)
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]*models.Record, error)
	Execute(ctx context.Context, id domain.RegistrationID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
}

// Registrations is the slice of the registration service attendance drives.
type Registrations interface {
	Get(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]*regmodels.Registration, error)
	MarkCheckedIn(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	MarkCheckedOut(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	MarkNoShow(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
}

type Catalog interface {
	GetEvent(ctx context.Context, id domain.EventID) (*catalog.Event, error)
	GetShift(ctx context.Context, id domain.ShiftID) (*catalog.Event, catalog.Shift, error)
}

type PolicyResolver interface {
	For(event *catalog.Event) policy.Policy
}

// Locker serializes work on one registration with concurrent callers.
type Locker interface {
	Lock(key string) (unlock func())
}

// Service records check-ins and check-outs and turns them into finalized
// attendance records.
type Service struct {
	store         Store
	registrations Registrations
	catalog       Catalog
	policies      PolicyResolver
	locker        Locker
	logger        *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPolicies(r PolicyResolver) Option {
	return func(s *Service) {
		s.policies = r
	}
}

// WithLocker makes CloseEvent take the per-registration lock held by
// callers of CheckIn and CheckOut, so a volunteer checking in at the last
// minute is not marked absent concurrently.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func New(store Store, registrations Registrations, cat Catalog, opts ...Option) *Service {
	s := &Service{store: store, registrations: registrations, catalog: cat}
	for _, opt := range opts {
		opt(s)
	}
	if s.policies == nil {
		s.policies = (*policy.Resolver)(nil)
	}
	return s
}

// Result wraps a record with whether the call was a retry of one that had
// already been applied.
type Result struct {
	Record    *models.Record
	Duplicate bool
}

// CheckIn records arrival at at. The check-in is accepted even when the
// location is outside the geofence or missing; the record is flagged instead.
func (s *Service) CheckIn(ctx context.Context, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*Result, error) {
	reg, err := s.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status == regmodels.StatusCheckedIn {
		rec, err := s.Get(ctx, id)
		if err == nil {
			return &Result{Record: rec, Duplicate: true}, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
	} else if reg.Status != regmodels.StatusConfirmed {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonNotConfirmed,
			"registration is "+string(reg.Status)+", not confirmed")
	}

	event, shift, err := s.shift(ctx, reg.ShiftID)
	if err != nil {
		return nil, err
	}
	pol := s.policies.For(event)
	if at.Before(shift.Start.Add(-pol.CheckInGrace)) || at.After(shift.End) {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonOutsideWindow,
			"check-in is outside the shift window")
	}

	now := requestcontext.Now(ctx)
	punch := punchAt(event.Geofence, coordinate, at)
	rec := &models.Record{
		RegistrationID: id,
		EventID:        reg.EventID,
		ShiftID:        reg.ShiftID,
		VolunteerID:    reg.VolunteerID,
		Revision:       1,
		CheckIn:        punch,
		Flags:          []models.Flag{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	flagLocation(rec, punch.Validation)

	duplicate := false
	if err := s.store.Create(ctx, rec); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save attendance record")
		}
		// an earlier attempt stored the record but did not get to mark the
		// registration; finish that attempt
		if rec, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
		duplicate = true
	}
	if _, err := s.registrations.MarkCheckedIn(ctx, id); err != nil {
		return nil, err
	}

	s.logAudit(ctx, "attendance_checked_in",
		"registration_id", id,
		"within", rec.CheckIn.Validation.Within,
		"distance_meters", rec.CheckIn.Validation.DistanceMeters,
		"flags", rec.Flags)
	return &Result{Record: rec, Duplicate: duplicate}, nil
}

// CheckOut records departure at at and finalizes the record. Repeating a
// check-out with the same timestamp returns the finalized record.
func (s *Service) CheckOut(ctx context.Context, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*Result, error) {
	reg, err := s.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status == regmodels.StatusCheckedOut {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.CheckOut != nil && rec.CheckOut.At.Equal(at) {
			return &Result{Record: rec, Duplicate: true}, nil
		}
	}
	if reg.Status != regmodels.StatusCheckedIn {
		return nil, dErrors.NewWithReason(dErrors.CodeConflict, domain.ReasonNotCheckedIn,
			"registration is "+string(reg.Status)+", not checked in")
	}

	event, _, err := s.shift(ctx, reg.ShiftID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	punch := punchAt(event.Geofence, coordinate, at)
	rec, err := s.store.Execute(ctx, id,
		func(r *models.Record) error {
			if r.Finalized {
				return attendance.ErrSkip
			}
			return nil
		},
		func(r *models.Record) {
			flagLocation(r, punch.Validation)
			r.Finalize(punch, now)
		},
	)
	if err != nil && !errors.Is(err, attendance.ErrSkip) {
		return nil, s.translateStoreError(err, "failed to finalize attendance record")
	}
	if _, err := s.registrations.MarkCheckedOut(ctx, id); err != nil {
		return nil, err
	}

	s.logAudit(ctx, "attendance_checked_out",
		"registration_id", id,
		"duration", rec.Duration,
		"flags", rec.Flags)
	return &Result{Record: rec}, nil
}

// CloseSummary reports what CloseEvent changed.
type CloseSummary struct {
	EventID       domain.EventID          `json:"event_id"`
	NoShows       []domain.RegistrationID `json:"no_shows"`
	AutoFinalized []*models.Record        `json:"auto_finalized"`
	// OpenShifts counts shifts that had not ended yet and were left alone.
	OpenShifts int `json:"open_shifts"`
}

// CloseEvent settles every shift of the event that has ended by now:
// confirmed registrations become no-shows and dangling check-ins are
// finalized at shift end with a missing_checkout flag. Running it again
// changes nothing.
func (s *Service) CloseEvent(ctx context.Context, eventID domain.EventID, now time.Time) (*CloseSummary, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	summary := &CloseSummary{EventID: eventID, NoShows: []domain.RegistrationID{}, AutoFinalized: []*models.Record{}}
	ended := make(map[domain.ShiftID]catalog.Shift)
	for _, sh := range event.Shifts {
		if sh.HasEnded(now) {
			ended[sh.ID] = sh
		} else {
			summary.OpenShifts++
		}
	}

	regs, err := s.registrations.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		shift, ok := ended[reg.ShiftID]
		if !ok {
			continue
		}
		if err := s.closeRegistration(ctx, reg.ID, shift, summary); err != nil {
			return summary, err
		}
	}

	s.logAudit(ctx, "event_closed",
		"event_id", eventID,
		"no_shows", len(summary.NoShows),
		"auto_finalized", len(summary.AutoFinalized),
		"open_shifts", summary.OpenShifts)
	return summary, nil
}

func (s *Service) closeRegistration(ctx context.Context, id domain.RegistrationID, shift catalog.Shift, summary *CloseSummary) error {
	if s.locker != nil {
		unlock := s.locker.Lock(id.String())
		defer unlock()
	}
	// reload under the lock; the listed status may be stale
	reg, err := s.registrations.Get(ctx, id)
	if err != nil {
		return err
	}
	switch reg.Status {
	case regmodels.StatusConfirmed:
		if _, err := s.registrations.MarkNoShow(ctx, reg.ID); err != nil {
			return err
		}
		summary.NoShows = append(summary.NoShows, reg.ID)
	case regmodels.StatusCheckedIn:
		rec, err := s.autoFinalize(ctx, reg.ID, shift.End)
		if err != nil {
			return err
		}
		if _, err := s.registrations.MarkCheckedOut(ctx, reg.ID); err != nil {
			return err
		}
		summary.AutoFinalized = append(summary.AutoFinalized, rec)
	}
	return nil
}

func (s *Service) autoFinalize(ctx context.Context, id domain.RegistrationID, end time.Time) (*models.Record, error) {
	now := requestcontext.Now(ctx)
	rec, err := s.store.Execute(ctx, id,
		func(r *models.Record) error {
			if r.Finalized {
				return attendance.ErrSkip
			}
			return nil
		},
		func(r *models.Record) {
			r.AddFlag(models.FlagMissingCheckout)
			r.Finalize(models.Punch{At: end, Validation: geo.Result{Unavailable: true}, Auto: true}, now)
		},
	)
	if err != nil && !errors.Is(err, attendance.ErrSkip) {
		return nil, s.translateStoreError(err, "failed to finalize attendance record")
	}
	return rec, nil
}

// Override clears flags on behalf of an organizer. Finalized records get a
// superseding revision; open records are amended in place.
func (s *Service) Override(ctx context.Context, id domain.RegistrationID, actor domain.Actor, flags []models.Flag, note string) (*models.Record, error) {
	if !actor.IsOrganizer() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only organizers can override attendance flags")
	}
	if note == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "note is required")
	}
	if len(flags) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one flag is required")
	}
	for _, f := range flags {
		if !f.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown flag "+string(f))
		}
	}

	now := requestcontext.Now(ctx)
	var pending []models.Flag
	rec, err := s.store.Execute(ctx, id,
		func(r *models.Record) error {
			for _, f := range flags {
				if !r.HasFlag(f) {
					return dErrors.New(dErrors.CodeValidation, "record is not flagged "+string(f))
				}
				if !r.IsOverridden(f) {
					pending = append(pending, f)
				}
			}
			if len(pending) == 0 {
				return attendance.ErrSkip
			}
			return nil
		},
		func(r *models.Record) {
			r.BeginRevision(now)
			for _, f := range pending {
				r.Overrides = append(r.Overrides, models.Override{Flag: f, Actor: actor, Note: note, At: now})
			}
		},
	)
	if errors.Is(err, attendance.ErrSkip) {
		return rec, nil
	}
	if err != nil {
		return nil, s.translateStoreError(err, "failed to override attendance flags")
	}
	s.logAudit(ctx, "attendance_overridden",
		"registration_id", id,
		"flags", pending,
		"revision", rec.Revision,
		"actor", actor.Subject)
	return rec, nil
}

// ForceNoShow lets an organizer mark a volunteer as absent. A checked-in
// volunteer's record is finalized with an organizer_no_show flag.
func (s *Service) ForceNoShow(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*regmodels.Registration, *models.Record, error) {
	if !actor.IsOrganizer() {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "only organizers can mark no-shows")
	}
	reg, err := s.registrations.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var rec *models.Record
	if reg.Status == regmodels.StatusCheckedIn {
		now := requestcontext.Now(ctx)
		rec, err = s.store.Execute(ctx, id,
			func(r *models.Record) error {
				if r.HasFlag(models.FlagOrganizerNoShow) {
					return attendance.ErrSkip
				}
				return nil
			},
			func(r *models.Record) {
				r.BeginRevision(now)
				r.AddFlag(models.FlagOrganizerNoShow)
				r.Finalized = true
				t := now
				r.FinalizedAt = &t
			},
		)
		if err != nil && !errors.Is(err, attendance.ErrSkip) {
			return nil, nil, s.translateStoreError(err, "failed to record no-show")
		}
	}
	reg, err = s.registrations.MarkNoShow(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.logAudit(ctx, "attendance_no_show",
		"registration_id", id,
		"actor", actor.Subject)
	return reg, rec, nil
}

// Get returns the latest revision of the record.
func (s *Service) Get(ctx context.Context, id domain.RegistrationID) (*models.Record, error) {
	rec, err := s.store.Latest(ctx, id)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to load attendance record")
	}
	return rec, nil
}

// History returns every revision, oldest first.
func (s *Service) History(ctx context.Context, id domain.RegistrationID) ([]*models.Record, error) {
	recs, err := s.store.History(ctx, id)
	if err != nil {
		return nil, s.translateStoreError(err, "failed to load attendance history")
	}
	return recs, nil
}

func (s *Service) shift(ctx context.Context, id domain.ShiftID) (*catalog.Event, catalog.Shift, error) {
	event, shift, err := s.catalog.GetShift(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, catalog.Shift{}, dErrors.New(dErrors.CodeNotFound, "shift not found")
		}
		return nil, catalog.Shift{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load shift")
	}
	return event, shift, nil
}

func punchAt(fence geo.Geofence, coordinate *geo.Coordinate, at time.Time) models.Punch {
	p := models.Punch{At: at, Validation: geo.Validate(fence, coordinate)}
	if coordinate != nil {
		c := *coordinate
		p.Coordinate = &c
	}
	return p
}

func flagLocation(r *models.Record, v geo.Result) {
	switch {
	case v.Unavailable:
		r.AddFlag(models.FlagLocationUnavailable)
	case !v.Within:
		r.AddFlag(models.FlagGeofenceViolation)
	}
}

func (s *Service) translateStoreError(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "attendance record not found")
	case errors.Is(err, sentinel.ErrStaleVersion), errors.Is(err, attendance.ErrFinalized):
		return dErrors.Wrap(err, dErrors.CodeConflict, "attendance record was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
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
