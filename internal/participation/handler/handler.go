package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	attmodels "roster/internal/attendance/models"
	attservice "roster/internal/attendance/service"
	"roster/internal/certificate"
	"roster/internal/geo"
	"roster/internal/participation"
	"roster/internal/platform/metrics"
	"roster/internal/platform/middleware"
	regmodels "roster/internal/registration/models"
	regservice "roster/internal/registration/service"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	"roster/pkg/platform/httputil"
	"roster/pkg/requestcontext"
)

// Service defines the participation operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, actor domain.Actor, volunteerID domain.VolunteerID, eventID domain.EventID, shiftID domain.ShiftID) (*regservice.RegisterResult, error)
	Cancel(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regservice.CancelResult, error)
	Confirm(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regmodels.Registration, error)
	GetRegistration(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regmodels.Registration, error)
	CheckIn(ctx context.Context, actor domain.Actor, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*attservice.Result, error)
	CheckOut(ctx context.Context, actor domain.Actor, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*attservice.Result, error)
	Attendance(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*attmodels.Record, []*attmodels.Record, error)
	Override(ctx context.Context, actor domain.Actor, id domain.RegistrationID, flags []attmodels.Flag, note string) (*attmodels.Record, error)
	ForceNoShow(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*regmodels.Registration, error)
	Certificate(ctx context.Context, actor domain.Actor, id domain.RegistrationID) (*certificate.Decision, error)
	VolunteerHours(ctx context.Context, actor domain.Actor, volunteerID domain.VolunteerID) (*certificate.Hours, error)
	CloseEvent(ctx context.Context, actor domain.Actor, eventID domain.EventID) (*attservice.CloseSummary, error)
	SetShiftCapacity(ctx context.Context, actor domain.Actor, shiftID domain.ShiftID, n int) ([]*regmodels.Registration, error)
	Capacity(ctx context.Context, eventID domain.EventID) (*participation.EventCapacity, error)
}

// Handler handles the /v1 participation endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	service Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the participation routes with the chi router. Request
// timeouts are applied by the caller's root router.
func (h *Handler) Register(r chi.Router) {
	v1 := chi.NewRouter()
	v1.Use(middleware.Recovery(h.logger))
	v1.Use(middleware.RequestID)
	v1.Use(middleware.RequestTime)
	v1.Use(middleware.Logger(h.logger))
	v1.Use(middleware.ContentTypeJSON)
	v1.Use(middleware.LatencyMiddleware(h.metrics, routePattern))
	v1.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	v1.Post("/registrations", h.handleRegister)
	v1.Get("/registrations/{id}", h.handleGetRegistration)
	v1.Post("/registrations/{id}/cancel", h.handleCancel)
	v1.With(middleware.RequireOrganizer).Post("/registrations/{id}/confirm", h.handleConfirm)

	v1.Post("/attendance/checkin", h.handleCheckIn)
	v1.Post("/attendance/checkout", h.handleCheckOut)
	v1.Get("/attendance/{id}", h.handleGetAttendance)
	v1.With(middleware.RequireOrganizer).Post("/attendance/{id}/override", h.handleOverride)
	v1.With(middleware.RequireOrganizer).Post("/attendance/{id}/no-show", h.handleNoShow)

	v1.Get("/certificates/{id}", h.handleCertificate)
	v1.Get("/volunteers/{id}/hours", h.handleVolunteerHours)

	v1.With(middleware.RequireOrganizer).Post("/events/{id}/close", h.handleCloseEvent)
	v1.Get("/events/{id}/capacity", h.handleCapacity)
	v1.With(middleware.RequireOrganizer).Put("/shifts/{id}/capacity", h.handleSetCapacity)

	r.Mount("/v1", v1)
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeAndPrepare[RegisterRequest](r)
	if err != nil {
		h.fail(ctx, w, "invalid register request", err)
		return
	}
	volunteerID, _ := domain.ParseVolunteerID(req.VolunteerID)
	eventID, _ := domain.ParseEventID(req.EventID)
	shiftID, _ := domain.ParseShiftID(req.ShiftID)

	res, err := h.service.Register(ctx, requestcontext.Actor(ctx), volunteerID, eventID, shiftID)
	if err != nil {
		h.fail(ctx, w, "register failed", err)
		return
	}
	status := http.StatusCreated
	switch {
	case res.Existing:
		status = http.StatusOK
	case res.Registration.Status == regmodels.StatusWaitlisted:
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, RegistrationResponse{
		Registration:     res.Registration,
		WaitlistPosition: res.Position,
		Existing:         res.Existing,
	})
}

func (h *Handler) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	reg, err := h.service.GetRegistration(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "get registration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RegistrationResponse{Registration: reg})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Cancel(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "cancel failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CancelResponse{Registration: res.Registration, Promoted: res.Promoted})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	reg, err := h.service.Confirm(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "confirm failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RegistrationResponse{Registration: reg})
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	h.punch(w, r, h.service.CheckIn)
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	h.punch(w, r, h.service.CheckOut)
}

type punchFunc func(ctx context.Context, actor domain.Actor, id domain.RegistrationID, coordinate *geo.Coordinate, at time.Time) (*attservice.Result, error)

func (h *Handler) punch(w http.ResponseWriter, r *http.Request, fn punchFunc) {
	ctx := r.Context()
	req, err := httputil.DecodeAndPrepare[PunchRequest](r)
	if err != nil {
		h.fail(ctx, w, "invalid attendance request", err)
		return
	}
	id, _ := domain.ParseRegistrationID(req.RegistrationID)

	res, err := fn(ctx, requestcontext.Actor(ctx), id, req.Coordinate(), req.At())
	if err != nil {
		h.fail(ctx, w, "attendance update failed", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, AttendanceResponse{Record: res.Record, Duplicate: res.Duplicate})
}

func (h *Handler) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	rec, history, err := h.service.Attendance(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "get attendance failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AttendanceResponse{Record: rec, History: history})
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeAndPrepare[OverrideRequest](r)
	if err != nil {
		h.fail(ctx, w, "invalid override request", err)
		return
	}
	rec, err := h.service.Override(ctx, requestcontext.Actor(ctx), id, req.ToFlags(), req.Note)
	if err != nil {
		h.fail(ctx, w, "override failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AttendanceResponse{Record: rec})
}

func (h *Handler) handleNoShow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	reg, err := h.service.ForceNoShow(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "no-show failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RegistrationResponse{Registration: reg})
}

func (h *Handler) handleCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.registrationID(w, r)
	if !ok {
		return
	}
	decision, err := h.service.Certificate(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.fail(ctx, w, "certificate evaluation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleVolunteerHours(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	volunteerID, err := domain.ParseVolunteerID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid volunteer id", dErrors.New(dErrors.CodeBadRequest, "invalid volunteer id"))
		return
	}
	hours, err := h.service.VolunteerHours(ctx, requestcontext.Actor(ctx), volunteerID)
	if err != nil {
		h.fail(ctx, w, "volunteer hours failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hours)
}

func (h *Handler) handleCloseEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.CloseEvent(ctx, requestcontext.Actor(ctx), eventID)
	if err != nil {
		h.fail(ctx, w, "close event failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	snapshot, err := h.service.Capacity(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "capacity snapshot failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shiftID, err := domain.ParseShiftID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid shift id", dErrors.New(dErrors.CodeBadRequest, "invalid shift id"))
		return
	}
	req, err := httputil.DecodeAndPrepare[CapacityRequest](r)
	if err != nil {
		h.fail(ctx, w, "invalid capacity request", err)
		return
	}
	promoted, err := h.service.SetShiftCapacity(ctx, requestcontext.Actor(ctx), shiftID, *req.Capacity)
	if err != nil {
		h.fail(ctx, w, "set capacity failed", err)
		return
	}
	if promoted == nil {
		promoted = []*regmodels.Registration{}
	}
	httputil.WriteJSON(w, http.StatusOK, PromotedResponse{Promoted: promoted})
}

func (h *Handler) registrationID(w http.ResponseWriter, r *http.Request) (domain.RegistrationID, bool) {
	id, err := domain.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r.Context(), w, "invalid registration id", dErrors.New(dErrors.CodeBadRequest, "invalid registration id"))
		return domain.RegistrationID{}, false
	}
	return id, true
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (domain.EventID, bool) {
	id, err := domain.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r.Context(), w, "invalid event id", dErrors.New(dErrors.CodeBadRequest, "invalid event id"))
		return domain.EventID{}, false
	}
	return id, true
}

// fail logs err at a level matching its code and writes the error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := requestcontext.RequestID(ctx)
	if dErrors.HasCode(err, dErrors.CodeInternal) || !isCoded(err) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func isCoded(err error) bool {
	_, ok := dErrors.As(err)
	return ok
}
