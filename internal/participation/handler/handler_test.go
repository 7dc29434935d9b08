package handler

//go:generate mockgen -source=handler.go -destination=mocks/participation-mocks.go -package=mocks Service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	attmodels "roster/internal/attendance/models"
	attservice "roster/internal/attendance/service"
	"roster/internal/certificate"
	"roster/internal/geo"
	"roster/internal/participation/handler/mocks"
	"roster/internal/platform/metrics"
	regmodels "roster/internal/registration/models"
	regservice "roster/internal/registration/service"
	"roster/pkg/domain"
	dErrors "roster/pkg/domain-errors"
	apptest "roster/pkg/testutil"
)

type fakeValidator struct{}

// ValidateToken accepts "organizer" and "volunteer:<uuid>" tokens.
func (fakeValidator) ValidateToken(token string) (domain.Actor, error) {
	if token == "organizer" {
		return domain.Actor{Subject: "org-1", Role: domain.RoleOrganizer}, nil
	}
	if sub, ok := strings.CutPrefix(token, "volunteer:"); ok {
		return domain.Actor{Subject: sub, Role: domain.RoleVolunteer}, nil
	}
	return domain.Actor{}, errors.New("bad token")
}

type HandlerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	svc       *mocks.MockService
	router    http.Handler
	volunteer domain.VolunteerID
	event     domain.EventID
	shift     domain.ShiftID
	regID     domain.RegistrationID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.svc, logger, metrics.New(prometheus.NewRegistry()), fakeValidator{})

	r := chi.NewRouter()
	h.Register(r)
	s.router = r

	s.volunteer = domain.VolunteerID(uuid.New())
	s.event = domain.EventID(uuid.New())
	s.shift = domain.ShiftID(uuid.New())
	s.regID = domain.NewRegistrationID()
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	req := apptest.WithBearer(apptest.NewJSONRequest(s.T(), method, path, body), token)
	return apptest.DoRequest(s.router, req)
}

func (s *HandlerSuite) volunteerToken() string {
	return "volunteer:" + s.volunteer.String()
}

func (s *HandlerSuite) registration(status regmodels.Status) *regmodels.Registration {
	return &regmodels.Registration{
		ID:          s.regID,
		VolunteerID: s.volunteer,
		EventID:     s.event,
		ShiftID:     s.shift,
		Status:      status,
	}
}

func decode[T any](s *HandlerSuite, rec *httptest.ResponseRecorder) T {
	return *apptest.UnmarshalResponse[T](s.T(), rec)
}

func (s *HandlerSuite) TestAuth() {
	s.Run("missing token is unauthorized", func() {
		rec := s.do(http.MethodGet, "/v1/registrations/"+s.regID.String(), "", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("volunteer cannot close an event", func() {
		rec := s.do(http.MethodPost, "/v1/events/"+s.event.String()+"/close", s.volunteerToken(), nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestRegister() {
	body := RegisterRequest{
		VolunteerID: s.volunteer.String(),
		EventID:     s.event.String(),
		ShiftID:     s.shift.String(),
	}

	s.Run("confirmed slot returns 201", func() {
		s.svc.EXPECT().
			Register(gomock.Any(), domain.Actor{Subject: s.volunteer.String(), Role: domain.RoleVolunteer}, s.volunteer, s.event, s.shift).
			Return(&regservice.RegisterResult{Registration: s.registration(regmodels.StatusConfirmed)}, nil)

		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), body)
		s.Equal(http.StatusCreated, rec.Code)
		resp := decode[RegistrationResponse](s, rec)
		s.Equal(regmodels.StatusConfirmed, resp.Registration.Status)
		s.Equal(s.regID, resp.Registration.ID)
	})

	s.Run("waitlisted returns 202 with position", func() {
		s.svc.EXPECT().
			Register(gomock.Any(), gomock.Any(), s.volunteer, s.event, s.shift).
			Return(&regservice.RegisterResult{Registration: s.registration(regmodels.StatusWaitlisted), Position: 3}, nil)

		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), body)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Equal(3, decode[RegistrationResponse](s, rec).WaitlistPosition)
	})

	s.Run("existing registration returns 200", func() {
		s.svc.EXPECT().
			Register(gomock.Any(), gomock.Any(), s.volunteer, s.event, s.shift).
			Return(&regservice.RegisterResult{Registration: s.registration(regmodels.StatusConfirmed), Existing: true}, nil)

		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), body)
		s.Equal(http.StatusOK, rec.Code)
		s.True(decode[RegistrationResponse](s, rec).Existing)
	})

	s.Run("invalid uuid is rejected before the service", func() {
		bad := body
		bad.ShiftID = "not-a-uuid"
		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), bad)
		apptest.AssertError(s.T(), rec, http.StatusBadRequest, string(dErrors.CodeValidation), "")
	})

	s.Run("malformed json", func() {
		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), "{nope")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("conflict reason is surfaced", func() {
		s.svc.EXPECT().
			Register(gomock.Any(), gomock.Any(), s.volunteer, s.event, s.shift).
			Return(nil, dErrors.NewWithReason(dErrors.CodeConflict, string(domain.ReasonEventClosed), "event is closed"))

		rec := s.do(http.MethodPost, "/v1/registrations", s.volunteerToken(), body)
		apptest.AssertError(s.T(), rec, http.StatusConflict, string(dErrors.CodeConflict), domain.ReasonEventClosed)
	})
}

func (s *HandlerSuite) TestCancel() {
	promoted := s.registration(regmodels.StatusConfirmed)
	promoted.ID = domain.NewRegistrationID()
	s.svc.EXPECT().
		Cancel(gomock.Any(), gomock.Any(), s.regID).
		Return(&regservice.CancelResult{Registration: s.registration(regmodels.StatusCancelled), Promoted: promoted}, nil)

	rec := s.do(http.MethodPost, "/v1/registrations/"+s.regID.String()+"/cancel", s.volunteerToken(), nil)
	s.Equal(http.StatusOK, rec.Code)
	resp := decode[CancelResponse](s, rec)
	s.Equal(regmodels.StatusCancelled, resp.Registration.Status)
	s.Require().NotNil(resp.Promoted)
	s.Equal(promoted.ID, resp.Promoted.ID)
}

func (s *HandlerSuite) TestGetRegistration() {
	s.Run("bad id", func() {
		rec := s.do(http.MethodGet, "/v1/registrations/abc", s.volunteerToken(), nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("not found", func() {
		s.svc.EXPECT().
			GetRegistration(gomock.Any(), gomock.Any(), s.regID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "registration not found"))

		rec := s.do(http.MethodGet, "/v1/registrations/"+s.regID.String(), s.volunteerToken(), nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestCheckIn() {
	at := time.Date(2026, 3, 14, 8, 55, 0, 0, time.UTC)

	s.Run("coordinates and timestamp reach the service", func() {
		lat, lng := 25.0657, 55.1713
		s.svc.EXPECT().
			CheckIn(gomock.Any(), gomock.Any(), s.regID, &geo.Coordinate{Lat: lat, Lng: lng}, at).
			Return(&attservice.Result{Record: &attmodels.Record{RegistrationID: s.regID, Revision: 1}}, nil)

		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), PunchRequest{
			RegistrationID: s.regID.String(),
			Lat:            &lat,
			Lng:            &lng,
			Timestamp:      &at,
		})
		s.Equal(http.StatusCreated, rec.Code)
		s.Equal(1, decode[AttendanceResponse](s, rec).Record.Revision)
	})

	s.Run("missing location passes a nil coordinate", func() {
		s.svc.EXPECT().
			CheckIn(gomock.Any(), gomock.Any(), s.regID, (*geo.Coordinate)(nil), time.Time{}).
			Return(&attservice.Result{
				Record:    &attmodels.Record{RegistrationID: s.regID, Flags: []attmodels.Flag{attmodels.FlagLocationUnavailable}},
				Duplicate: true,
			}, nil)

		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), map[string]any{
			"registration_id": s.regID.String(),
		})
		s.Equal(http.StatusOK, rec.Code)
		resp := decode[AttendanceResponse](s, rec)
		s.True(resp.Duplicate)
		s.Equal([]attmodels.Flag{attmodels.FlagLocationUnavailable}, resp.Record.Flags)
	})

	s.Run("latitude without longitude is invalid", func() {
		lat := 25.0
		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), PunchRequest{
			RegistrationID: s.regID.String(),
			Lat:            &lat,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("longitude without latitude is invalid", func() {
		lng := 55.0
		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), PunchRequest{
			RegistrationID: s.regID.String(),
			Lng:            &lng,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("out of range latitude is invalid", func() {
		lat, lng := 91.0, 10.0
		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), PunchRequest{
			RegistrationID: s.regID.String(),
			Lat:            &lat,
			Lng:            &lng,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("outside window", func() {
		s.svc.EXPECT().
			CheckIn(gomock.Any(), gomock.Any(), s.regID, gomock.Any(), gomock.Any()).
			Return(nil, dErrors.NewWithReason(dErrors.CodeConflict, string(domain.ReasonOutsideWindow), "outside check-in window"))

		rec := s.do(http.MethodPost, "/v1/attendance/checkin", s.volunteerToken(), map[string]any{
			"registration_id": s.regID.String(),
		})
		apptest.AssertError(s.T(), rec, http.StatusConflict, string(dErrors.CodeConflict), domain.ReasonOutsideWindow)
	})
}

func (s *HandlerSuite) TestCheckOut() {
	s.svc.EXPECT().
		CheckOut(gomock.Any(), gomock.Any(), s.regID, (*geo.Coordinate)(nil), time.Time{}).
		Return(&attservice.Result{Record: &attmodels.Record{RegistrationID: s.regID, Finalized: true}}, nil)

	rec := s.do(http.MethodPost, "/v1/attendance/checkout", s.volunteerToken(), map[string]any{
		"registration_id": s.regID.String(),
	})
	s.Equal(http.StatusCreated, rec.Code)
	s.True(decode[AttendanceResponse](s, rec).Record.Finalized)
}

func (s *HandlerSuite) TestAttendanceHistory() {
	latest := &attmodels.Record{RegistrationID: s.regID, Revision: 2, Supersedes: 1}
	first := &attmodels.Record{RegistrationID: s.regID, Revision: 1}
	s.svc.EXPECT().
		Attendance(gomock.Any(), gomock.Any(), s.regID).
		Return(latest, []*attmodels.Record{first, latest}, nil)

	rec := s.do(http.MethodGet, "/v1/attendance/"+s.regID.String(), s.volunteerToken(), nil)
	s.Equal(http.StatusOK, rec.Code)
	resp := decode[AttendanceResponse](s, rec)
	s.Equal(2, resp.Record.Revision)
	s.Len(resp.History, 2)
}

func (s *HandlerSuite) TestOverride() {
	s.Run("organizer override", func() {
		s.svc.EXPECT().
			Override(gomock.Any(), domain.Actor{Subject: "org-1", Role: domain.RoleOrganizer}, s.regID,
				[]attmodels.Flag{attmodels.FlagGeofenceViolation}, "GPS drift near the stage").
			Return(&attmodels.Record{RegistrationID: s.regID, Revision: 2}, nil)

		rec := s.do(http.MethodPost, "/v1/attendance/"+s.regID.String()+"/override", "organizer", OverrideRequest{
			Flags: []string{"geofence_violation"},
			Note:  "  GPS drift near the stage ",
		})
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("unknown flag", func() {
		rec := s.do(http.MethodPost, "/v1/attendance/"+s.regID.String()+"/override", "organizer", OverrideRequest{
			Flags: []string{"late"},
			Note:  "x",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("note required", func() {
		rec := s.do(http.MethodPost, "/v1/attendance/"+s.regID.String()+"/override", "organizer", OverrideRequest{
			Flags: []string{"geofence_violation"},
			Note:  "   ",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("volunteers are forbidden", func() {
		rec := s.do(http.MethodPost, "/v1/attendance/"+s.regID.String()+"/override", s.volunteerToken(), OverrideRequest{
			Flags: []string{"geofence_violation"},
			Note:  "x",
		})
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlerSuite) TestNoShow() {
	s.svc.EXPECT().
		ForceNoShow(gomock.Any(), gomock.Any(), s.regID).
		Return(s.registration(regmodels.StatusNoShow), nil)

	rec := s.do(http.MethodPost, "/v1/attendance/"+s.regID.String()+"/no-show", "organizer", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(regmodels.StatusNoShow, decode[RegistrationResponse](s, rec).Registration.Status)
}

func (s *HandlerSuite) TestCertificate() {
	s.svc.EXPECT().
		Certificate(gomock.Any(), gomock.Any(), s.regID).
		Return(&certificate.Decision{
			RegistrationID: s.regID,
			Eligible:       false,
			Reasons:        []certificate.Reason{certificate.ReasonBelowMinimumDuration},
		}, nil)

	rec := s.do(http.MethodGet, "/v1/certificates/"+s.regID.String(), s.volunteerToken(), nil)
	s.Equal(http.StatusOK, rec.Code)
	d := decode[certificate.Decision](s, rec)
	s.False(d.Eligible)
	s.Equal([]certificate.Reason{certificate.ReasonBelowMinimumDuration}, d.Reasons)
}

func (s *HandlerSuite) TestVolunteerHours() {
	s.svc.EXPECT().
		VolunteerHours(gomock.Any(), gomock.Any(), s.volunteer).
		Return(&certificate.Hours{VolunteerID: s.volunteer, TotalHours: 4.5}, nil)

	rec := s.do(http.MethodGet, "/v1/volunteers/"+s.volunteer.String()+"/hours", s.volunteerToken(), nil)
	s.Equal(http.StatusOK, rec.Code)
	s.InDelta(4.5, decode[certificate.Hours](s, rec).TotalHours, 0.001)
}

func (s *HandlerSuite) TestCloseEvent() {
	s.svc.EXPECT().
		CloseEvent(gomock.Any(), gomock.Any(), s.event).
		Return(&attservice.CloseSummary{EventID: s.event}, nil)

	rec := s.do(http.MethodPost, "/v1/events/"+s.event.String()+"/close", "organizer", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestSetShiftCapacity() {
	s.Run("promotions are returned", func() {
		s.svc.EXPECT().
			SetShiftCapacity(gomock.Any(), gomock.Any(), s.shift, 5).
			Return([]*regmodels.Registration{s.registration(regmodels.StatusConfirmed)}, nil)

		rec := s.do(http.MethodPut, "/v1/shifts/"+s.shift.String()+"/capacity", "organizer", map[string]int{"capacity": 5})
		s.Equal(http.StatusOK, rec.Code)
		s.Len(decode[PromotedResponse](s, rec).Promoted, 1)
	})

	s.Run("negative capacity", func() {
		rec := s.do(http.MethodPut, "/v1/shifts/"+s.shift.String()+"/capacity", "organizer", map[string]int{"capacity": -1})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("capacity required", func() {
		rec := s.do(http.MethodPut, "/v1/shifts/"+s.shift.String()+"/capacity", "organizer", map[string]int{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestInternalErrorsDoNotLeak() {
	s.svc.EXPECT().
		GetRegistration(gomock.Any(), gomock.Any(), s.regID).
		Return(nil, errors.New("pgx: connection refused"))

	rec := s.do(http.MethodGet, "/v1/registrations/"+s.regID.String(), s.volunteerToken(), nil)
	s.NotContains(rec.Body.String(), "pgx")
	apptest.AssertError(s.T(), rec, http.StatusInternalServerError, string(dErrors.CodeInternal), "")
}
