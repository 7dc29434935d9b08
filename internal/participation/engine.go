// Package participation is the entry point for every participation
// operation. It authorizes the caller, serializes work per registration,
// traces and measures each call and emits domain events for what changed.
package participation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	attmodels "roster/internal/attendance/models"
	attservice "roster/internal/attendance/service"
	"roster/internal/capacity"
	"roster/internal/catalog"
	"roster/internal/certificate"
	"roster/internal/events"
	"roster/internal/geo"
	"roster/internal/participation/metrics"
	regmodels "roster/internal/registration/models"
	regservice "roster/internal/registration/service"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/platform/keylock"
	"roster/pkg/requestcontext"
)

type Registrations interface {
	Register(ctx context.Context, volunteerID domain.VolunteerID, eventID domain.EventID, shiftID domain.ShiftID) (*regservice.RegisterResult, error)
	Cancel(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*regservice.CancelResult, error)
	Confirm(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*regmodels.Registration, error)
	Get(ctx context.Context, id domain.RegistrationID) (*regmodels.Registration, error)
	ListByVolunteer(ctx context.Context, volunteerID domain.VolunteerID) ([]*regmodels.Registration, error)
	SetShiftCapacity(ctx context.Context, shiftID domain.ShiftID, capacity int, actor domain.Actor) ([]*regmodels.Registration, error)
	ShiftCounts(ctx context.Context, shiftID domain.ShiftID) (capacity.Counts, error)
}

type Attendance interface {
	CheckIn(ctx context.Context, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*attservice.Result, error)
	CheckOut(ctx context.Context, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*attservice.Result, error)
	CloseEvent(ctx context.Context, eventID domain.EventID, now time.Time) (*attservice.CloseSummary, error)
	Override(ctx context.Context, id domain.RegistrationID, actor domain.Actor, flags []attmodels.Flag, note string) (*attmodels.Record, error)
	ForceNoShow(ctx context.Context, id domain.RegistrationID, actor domain.Actor) (*regmodels.Registration, *attmodels.Record, error)
	Get(ctx context.Context, id domain.RegistrationID) (*attmodels.Record, error)
	History(ctx context.Context, id domain.RegistrationID) ([]*attmodels.Record, error)
}

type Certificates interface {
	Evaluate(ctx context.Context, id domain.RegistrationID) (*certificate.Decision, error)
	VolunteerHours(ctx context.Context, volunteerID domain.VolunteerID) (*certificate.Hours, error)
}

type Catalog interface {
	GetEvent(ctx context.Context, id domain.EventID) (*catalog.Event, error)
	ListEvents(ctx context.Context) ([]*catalog.Event, error)
}

// Emitter hands domain events to the messaging layer.
type Emitter interface {
	Emit(ctx context.Context, evs ...events.Event) error
}

type Engine struct {
	registrations Registrations
	attendance    Attendance
	certificates  Certificates
	catalog       Catalog
	emitter       Emitter
	locks         *keylock.Map
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	logger        *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithEmitter(em Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// WithLocks shares the per-registration lock map with other components,
// such as the attendance tracker's event close.
func WithLocks(locks *keylock.Map) Option {
	return func(e *Engine) {
		e.locks = locks
	}
}

func New(registrations Registrations, attendance Attendance, certificates Certificates, cat Catalog, opts ...Option) *Engine {
	e := &Engine{
		registrations: registrations,
		attendance:    attendance,
		certificates:  certificates,
		catalog:       cat,
		tracer:        otel.Tracer("roster/participation"),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = keylock.New()
	}
	return e
}

// begin opens a span for op and returns the function that ends it, which
// records err on the span and in the metrics.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "participation."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			code := string(dErrors.CodeInternal)
			if de, ok := dErrors.As(err); ok {
				code = string(de.Code)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			if e.metrics != nil {
				e.metrics.IncrementOperationError(op, code)
			}
		}
		if e.metrics != nil {
			e.metrics.ObserveOperation(op, start)
		}
		span.End()
	}
}

func (e *Engine) lockRegistration(id domain.RegistrationID) func() {
	return e.locks.Lock(id.String())
}

// Register signs a volunteer up for a shift. Volunteers may only register
// themselves.
func (e *Engine) Register(ctx context.Context, actor domain.Actor, volunteerID domain.VolunteerID, eventID domain.EventID, shiftID domain.ShiftID) (res *regservice.RegisterResult, err error) {
	ctx, end := e.begin(ctx, "Register",
		attribute.String("volunteer_id", volunteerID.String()),
		attribute.String("shift_id", shiftID.String()))
	defer func() { end(err) }()

	if !actor.CanActFor(volunteerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot register another volunteer")
	}
	unlock := e.locks.Lock("volunteer:" + volunteerID.String() + "/event:" + eventID.String())
	defer unlock()

	res, err = e.registrations.Register(ctx, volunteerID, eventID, shiftID)
	if err != nil {
		return nil, err
	}
	if res.Existing {
		e.countRegistration("existing")
		return res, nil
	}
	e.countRegistration(string(res.Registration.Status))
	e.emit(ctx, events.TypeRegistrationCreated, res.Registration, "", map[string]any{
		"status":            res.Registration.Status,
		"waitlist_position": res.Position,
	})
	if res.Promoted {
		e.promoted(ctx, res.Registration, "cancellation")
	}
	return res, nil
}

func (e *Engine) Cancel(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (res *regservice.CancelResult, err error) {
	ctx, end := e.begin(ctx, "Cancel", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	unlock := e.lockRegistration(id)
	defer unlock()

	res, err = e.registrations.Cancel(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.Cancellations.Inc()
	}
	e.emit(ctx, events.TypeRegistrationCancelled, res.Registration, "", map[string]any{
		"cancelled_by": res.Registration.CancelledBy,
	})
	if res.Promoted != nil {
		e.promoted(ctx, res.Promoted, "cancellation")
	}
	return res, nil
}

func (e *Engine) Confirm(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (reg *regmodels.Registration, err error) {
	ctx, end := e.begin(ctx, "Confirm", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	unlock := e.lockRegistration(id)
	defer unlock()

	before, err := e.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reg, err = e.registrations.Confirm(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if before.Status == regmodels.StatusWaitlisted {
		e.promoted(ctx, reg, "organizer")
	}
	return reg, nil
}

func (e *Engine) GetRegistration(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regmodels.Registration, error) {
	reg, err := e.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(reg.VolunteerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot read another volunteer's registration")
	}
	return reg, nil
}

// authorize loads the registration and checks the actor may act on it.
func (e *Engine) authorize(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regmodels.Registration, error) {
	reg, err := e.registrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(reg.VolunteerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "registration belongs to another volunteer")
	}
	return reg, nil
}

// CheckIn records arrival. at is the device-reported time; zero means now.
func (e *Engine) CheckIn(ctx context.Context, actor domain.Actor, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (res *attservice.Result, err error) {
	ctx, end := e.begin(ctx, "CheckIn", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	reg, err := e.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = requestcontext.Now(ctx)
	}
	unlock := e.lockRegistration(id)
	defer unlock()

	res, err = e.attendance.CheckIn(ctx, id, coordinate, at)
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return res, nil
	}
	v := res.Record.CheckIn.Validation
	location := "within"
	switch {
	case v.Unavailable:
		location = "unavailable"
	case !v.Within:
		location = "outside"
	}
	if e.metrics != nil {
		e.metrics.IncrementCheckIn(location)
	}
	e.emit(ctx, events.TypeAttendanceCheckedIn, reg, "", map[string]any{
		"at":              res.Record.CheckIn.At,
		"within":          v.Within,
		"distance_meters": v.DistanceMeters,
		"flags":           res.Record.Flags,
	})
	return res, nil
}

// CheckOut records departure and logs the credited hours.
func (e *Engine) CheckOut(ctx context.Context, actor domain.Actor, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (res *attservice.Result, err error) {
	ctx, end := e.begin(ctx, "CheckOut", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	if _, err = e.authorize(ctx, actor, id); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = requestcontext.Now(ctx)
	}
	unlock := e.lockRegistration(id)
	defer unlock()

	res, err = e.attendance.CheckOut(ctx, id, coordinate, at)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		e.logHours(ctx, res.Record)
	}
	return res, nil
}

// logHours evaluates the finalized record and emits hours.logged, plus
// certificate.issued when it qualifies. Both are keyed by revision so a
// correction produces new events and a replay does not.
func (e *Engine) logHours(ctx context.Context, rec *attmodels.Record) {
	decision, err := e.certificates.Evaluate(ctx, rec.RegistrationID)
	if err != nil {
		e.logger.WarnContext(ctx, "evaluate certificate after attendance change failed",
			"registration_id", rec.RegistrationID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		return
	}
	subject := events.Subject{
		RegistrationID: rec.RegistrationID,
		VolunteerID:    rec.VolunteerID,
		EventID:        rec.EventID,
		ShiftID:        rec.ShiftID,
	}
	revision := strconv.Itoa(rec.Revision)
	if e.metrics != nil && rec.Revision == 1 && decision.Eligible {
		e.metrics.AddHoursCredited(decision.HoursCredited)
	}
	e.emitSubject(ctx, events.TypeHoursLogged, subject, revision, map[string]any{
		"revision":         rec.Revision,
		"duration_seconds": rec.Duration.Seconds(),
		"hours_credited":   decision.HoursCredited,
		"eligible":         decision.Eligible,
		"flags":            rec.OpenFlags(),
	})
	if decision.Eligible {
		e.issued(ctx, decision)
	}
}

func (e *Engine) issued(ctx context.Context, d *certificate.Decision) {
	subject := events.Subject{RegistrationID: d.RegistrationID, VolunteerID: d.VolunteerID, EventID: d.EventID, ShiftID: d.ShiftID}
	e.emitSubject(ctx, events.TypeCertificateIssued, subject, strconv.Itoa(d.BasedOnRevision), map[string]any{
		"hours_credited":    d.HoursCredited,
		"based_on_revision": d.BasedOnRevision,
	})
}

// Attendance returns the latest record and its full revision history.
func (e *Engine) Attendance(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*attmodels.Record, []*attmodels.Record, error) {
	if _, err := e.authorize(ctx, actor, id); err != nil {
		return nil, nil, err
	}
	history, err := e.attendance.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return history[len(history)-1], history, nil
}

func (e *Engine) Override(ctx context.Context, actor domain.Actor, id domain.RegistrationID, flags []attmodels.Flag, note string) (rec *attmodels.Record, err error) {
	ctx, end := e.begin(ctx, "Override", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	unlock := e.lockRegistration(id)
	defer unlock()

	rec, err = e.attendance.Override(ctx, id, actor, flags, note)
	if err != nil {
		return nil, err
	}
	if rec.Finalized {
		e.logHours(ctx, rec)
	}
	return rec, nil
}

func (e *Engine) ForceNoShow(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (reg *regmodels.Registration, err error) {
	ctx, end := e.begin(ctx, "ForceNoShow", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	unlock := e.lockRegistration(id)
	defer unlock()

	reg, _, err = e.attendance.ForceNoShow(ctx, id, actor)
	return reg, err
}

// Certificate evaluates eligibility. An eligible decision is announced once
// per attendance revision.
func (e *Engine) Certificate(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (d *certificate.Decision, err error) {
	ctx, end := e.begin(ctx, "Certificate", attribute.String("registration_id", id.String()))
	defer func() { end(err) }()

	if _, err = e.authorize(ctx, actor, id); err != nil {
		return nil, err
	}
	d, err = e.certificates.Evaluate(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncrementCertificateCheck(d.Eligible)
	}
	if d.Eligible {
		e.issued(ctx, d)
	}
	return d, nil
}

func (e *Engine) VolunteerHours(ctx context.Context, actor domain.Actor, volunteerID domain.VolunteerID) (*certificate.Hours, error) {
	if !actor.CanActFor(volunteerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot read another volunteer's hours")
	}
	return e.certificates.VolunteerHours(ctx, volunteerID)
}

// CloseEvent settles every ended shift of the event.
func (e *Engine) CloseEvent(ctx context.Context, actor domain.Actor, eventID domain.EventID) (summary *attservice.CloseSummary, err error) {
	ctx, end := e.begin(ctx, "CloseEvent", attribute.String("event_id", eventID.String()))
	defer func() { end(err) }()

	if !actor.IsOrganizer() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only organizers can close events")
	}
	summary, err = e.attendance.CloseEvent(ctx, eventID, requestcontext.Now(ctx))
	if err != nil {
		return summary, err
	}
	for _, rec := range summary.AutoFinalized {
		e.logHours(ctx, rec)
	}
	return summary, nil
}

func (e *Engine) SetShiftCapacity(ctx context.Context, actor domain.Actor, shiftID domain.ShiftID, n int) (promoted []*regmodels.Registration, err error) {
	ctx, end := e.begin(ctx, "SetShiftCapacity", attribute.String("shift_id", shiftID.String()))
	defer func() { end(err) }()

	promoted, err = e.registrations.SetShiftCapacity(ctx, shiftID, n, actor)
	for _, reg := range promoted {
		e.promoted(ctx, reg, "capacity_increase")
	}
	return promoted, err
}

// ShiftCapacity is the live count snapshot of one shift.
type ShiftCapacity struct {
	ShiftID domain.ShiftID  `json:"shift_id"`
	Start   time.Time       `json:"start"`
	End     time.Time       `json:"end"`
	Counts  capacity.Counts `json:"counts"`
}

type EventCapacity struct {
	EventID  domain.EventID  `json:"event_id"`
	Capacity int             `json:"capacity"`
	Shifts   []ShiftCapacity `json:"shifts"`
	Totals   capacity.Counts `json:"totals"`
}

func (e *Engine) Capacity(ctx context.Context, eventID domain.EventID) (*EventCapacity, error) {
	event, err := e.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, translateCatalogError(err)
	}
	out := &EventCapacity{EventID: eventID, Capacity: event.Capacity, Shifts: make([]ShiftCapacity, 0, len(event.Shifts))}
	for _, sh := range event.Shifts {
		counts, err := e.registrations.ShiftCounts(ctx, sh.ID)
		if err != nil {
			return nil, err
		}
		out.Shifts = append(out.Shifts, ShiftCapacity{ShiftID: sh.ID, Start: sh.Start, End: sh.End, Counts: counts})
		out.Totals = out.Totals.Add(counts)
	}
	return out, nil
}

func (e *Engine) promoted(ctx context.Context, reg *regmodels.Registration, cause string) {
	if e.metrics != nil {
		e.metrics.Promotions.Inc()
	}
	e.emit(ctx, events.TypeRegistrationPromoted, reg, "", map[string]any{
		"status": reg.Status,
		"cause":  cause,
	})
}

func (e *Engine) countRegistration(outcome string) {
	if e.metrics != nil {
		e.metrics.IncrementRegistration(outcome)
	}
}

func (e *Engine) emit(ctx context.Context, t events.Type, reg *regmodels.Registration, discriminator string, data any) {
	e.emitSubject(ctx, t, events.Subject{
		RegistrationID: reg.ID,
		VolunteerID:    reg.VolunteerID,
		EventID:        reg.EventID,
		ShiftID:        reg.ShiftID,
	}, discriminator, data)
}

// emitSubject never fails the operation; the state change already happened
// and is recoverable from the stores.
func (e *Engine) emitSubject(ctx context.Context, t events.Type, subject events.Subject, discriminator string, data any) {
	if e.emitter == nil {
		return
	}
	ev, err := events.New(t, subject, discriminator, requestcontext.Now(ctx), data)
	if err == nil {
		err = e.emitter.Emit(ctx, ev)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to emit domain event",
			"type", t,
			"registration_id", subject.RegistrationID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
	}
}
