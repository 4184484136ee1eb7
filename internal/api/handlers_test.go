package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/appointment"
)

type stubScheduler struct {
	bookFn        func(ctx context.Context, cmd appointment.BookCommand, actor appointment.Actor) (*appointment.Appointment, error)
	transitionFn  func(ctx context.Context, id uuid.UUID, target appointment.Status, actor appointment.Actor, opts appointment.TransitionOptions) (*appointment.Appointment, error)
	cancelFn      func(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)
	payFn         func(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	rescheduleFn  func(ctx context.Context, id uuid.UUID, newStart time.Time, actor appointment.Actor) (*appointment.Appointment, error)
	slotsFn       func(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]appointment.Interval, error)
	listFn        func(ctx context.Context, doctorID uuid.UUID, q appointment.ListQuery) ([]appointment.Appointment, error)
	getFn         func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	relFn         func(ctx context.Context, doctorID, patientID uuid.UUID) (*appointment.RelationshipRecord, error)
	historyFn     func(ctx context.Context, appointmentID uuid.UUID) ([]appointment.HistoryRecord, error)
}

func (s *stubScheduler) Book(ctx context.Context, cmd appointment.BookCommand, actor appointment.Actor) (*appointment.Appointment, error) {
	return s.bookFn(ctx, cmd, actor)
}

func (s *stubScheduler) Transition(ctx context.Context, id uuid.UUID, target appointment.Status, actor appointment.Actor, opts appointment.TransitionOptions) (*appointment.Appointment, error) {
	return s.transitionFn(ctx, id, target, actor, opts)
}

func (s *stubScheduler) Cancel(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error) {
	return s.cancelFn(ctx, id, actor, reason)
}

func (s *stubScheduler) ConfirmPayment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error) {
	return s.payFn(ctx, id, actor)
}

func (s *stubScheduler) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, actor appointment.Actor) (*appointment.Appointment, error) {
	return s.rescheduleFn(ctx, id, newStart, actor)
}

func (s *stubScheduler) AvailableSlots(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]appointment.Interval, error) {
	return s.slotsFn(ctx, clinicID, doctorID, room, day)
}

func (s *stubScheduler) DoctorAppointments(ctx context.Context, doctorID uuid.UUID, q appointment.ListQuery) ([]appointment.Appointment, error) {
	return s.listFn(ctx, doctorID, q)
}

func (s *stubScheduler) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.getFn(ctx, id)
}

func (s *stubScheduler) GetRelationship(ctx context.Context, doctorID, patientID uuid.UUID) (*appointment.RelationshipRecord, error) {
	return s.relFn(ctx, doctorID, patientID)
}

func (s *stubScheduler) AppointmentHistory(ctx context.Context, appointmentID uuid.UUID) ([]appointment.HistoryRecord, error) {
	return s.historyFn(ctx, appointmentID)
}

func sampleAppointment() *appointment.Appointment {
	return &appointment.Appointment{
		ID:            uuid.New(),
		PatientID:     uuid.New(),
		ClinicID:      uuid.New(),
		StartsAt:      time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC),
		DurationMins:  30,
		Type:          appointment.TypeConsultation,
		Priority:      appointment.PriorityNormal,
		Status:        appointment.StatusScheduled,
		PaymentStatus: appointment.PaymentPending,
	}
}

// testRouter wires the stub through the real router in dev-auth mode.
func testRouter(svc Scheduler) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Env: "test"})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, actorID uuid.UUID, role string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != uuid.Nil {
		req.Header.Set("X-Actor-ID", actorID.String())
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bookBody(patientID uuid.UUID) map[string]any {
	return map[string]any{
		"patient_id": patientID.String(),
		"clinic_id":  uuid.New().String(),
		"date":       "2026-06-02",
		"time":       "10:00",
		"type":       "consultation",
	}
}

func TestBookHandlerCreated(t *testing.T) {
	want := sampleAppointment()
	svc := &stubScheduler{
		bookFn: func(_ context.Context, cmd appointment.BookCommand, actor appointment.Actor) (*appointment.Appointment, error) {
			assert.Equal(t, appointment.TypeConsultation, cmd.Type)
			assert.Equal(t, time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC), cmd.StartsAt)
			assert.Equal(t, appointment.RolePatient, actor.Role)
			return want, nil
		},
	}

	rec := doRequest(t, testRouter(svc), http.MethodPost, "/appointments", bookBody(want.PatientID), want.PatientID, "patient")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, want.ID, resp.ID)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, want.StartsAt.Add(30*time.Minute), resp.EndsAt)
}

func TestBookHandlerRejectsBadBody(t *testing.T) {
	svc := &stubScheduler{}
	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Actor-ID", uuid.New().String())
	req.Header.Set("X-Actor-Role", "patient")
	rec := httptest.NewRecorder()
	testRouter(svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookHandlerPatientCannotBookForOthers(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodPost, "/appointments", bookBody(uuid.New()), uuid.New(), "patient")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookHandlerClinicBooksForPatient(t *testing.T) {
	want := sampleAppointment()
	svc := &stubScheduler{
		bookFn: func(context.Context, appointment.BookCommand, appointment.Actor) (*appointment.Appointment, error) {
			return want, nil
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost, "/appointments", bookBody(want.PatientID), uuid.New(), "clinic")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBookHandlerConflict(t *testing.T) {
	svc := &stubScheduler{
		bookFn: func(context.Context, appointment.BookCommand, appointment.Actor) (*appointment.Appointment, error) {
			return nil, appointment.ErrSlotConflict
		},
	}
	patientID := uuid.New()
	rec := doRequest(t, testRouter(svc), http.MethodPost, "/appointments", bookBody(patientID), patientID, "patient")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "slot_conflict", resp.Error)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodPost, "/appointments", bookBody(uuid.New()), uuid.Nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransitionHandlerPatientLimitedToCancel(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/transition", uuid.New()),
		map[string]string{"target_status": "confirmed"},
		uuid.New(), "patient")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransitionHandlerInvalidEdge(t *testing.T) {
	svc := &stubScheduler{
		transitionFn: func(context.Context, uuid.UUID, appointment.Status, appointment.Actor, appointment.TransitionOptions) (*appointment.Appointment, error) {
			return nil, appointment.ErrInvalidTransition
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/transition", uuid.New()),
		map[string]string{"target_status": "completed"},
		uuid.New(), "doctor")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	want := sampleAppointment()
	want.Status = appointment.StatusCancelled
	svc := &stubScheduler{
		cancelFn: func(_ context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error) {
			assert.Equal(t, want.ID, id)
			assert.Equal(t, "overslept", reason)
			return want, nil
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/cancel", want.ID),
		map[string]string{"reason": "overslept"},
		uuid.New(), "patient")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPayHandlerDeclined(t *testing.T) {
	svc := &stubScheduler{
		payFn: func(context.Context, uuid.UUID, appointment.Actor) (*appointment.Appointment, error) {
			return nil, appointment.ErrPaymentDeclined
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/pay", uuid.New()), nil,
		uuid.New(), "patient")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPayHandlerGatewayDown(t *testing.T) {
	svc := &stubScheduler{
		payFn: func(context.Context, uuid.UUID, appointment.Actor) (*appointment.Appointment, error) {
			return nil, appointment.ErrDependency
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/pay", uuid.New()), nil,
		uuid.New(), "patient")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetHandlerNotFound(t *testing.T) {
	svc := &stubScheduler{
		getFn: func(context.Context, uuid.UUID) (*appointment.Appointment, error) {
			return nil, appointment.ErrAppointmentNotFound
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/appointments/%s", uuid.New()), nil,
		uuid.New(), "admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHandlerRejectsBadID(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodGet, "/appointments/not-a-uuid", nil, uuid.New(), "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotsHandler(t *testing.T) {
	clinicID := uuid.New()
	doctorID := uuid.New()
	free := []appointment.Interval{{
		Start: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC),
	}}
	svc := &stubScheduler{
		slotsFn: func(_ context.Context, gotClinic uuid.UUID, gotDoctor *uuid.UUID, room *string, day time.Time) ([]appointment.Interval, error) {
			assert.Equal(t, clinicID, gotClinic)
			require.NotNil(t, gotDoctor)
			assert.Equal(t, doctorID, *gotDoctor)
			assert.Nil(t, room)
			return free, nil
		},
	}

	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/clinics/%s/slots?doctor_id=%s&date=2026-06-02", clinicID, doctorID), nil,
		uuid.New(), "patient")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailableSlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-06-02", resp.Date)
	require.Len(t, resp.Free, 1)
	assert.Len(t, resp.Slots, 2) // one free hour splits into two half-hour slots
}

func TestSlotsHandlerRejectsBadDate(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/clinics/%s/slots?date=tomorrow", uuid.New()), nil,
		uuid.New(), "patient")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelationshipHandlerStaffOnly(t *testing.T) {
	svc := &stubScheduler{}
	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/doctors/%s/patients/%s/relationship", uuid.New(), uuid.New()), nil,
		uuid.New(), "patient")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRelationshipHandler(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()
	svc := &stubScheduler{
		relFn: func(context.Context, uuid.UUID, uuid.UUID) (*appointment.RelationshipRecord, error) {
			return &appointment.RelationshipRecord{
				DoctorID:          doctorID,
				PatientID:         patientID,
				TotalAppointments: 4,
				IsActive:          true,
			}, nil
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/doctors/%s/patients/%s/relationship", doctorID, patientID), nil,
		uuid.New(), "doctor")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RelationshipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.TotalAppointments)
}

func TestRescheduleHandler(t *testing.T) {
	want := sampleAppointment()
	svc := &stubScheduler{
		rescheduleFn: func(_ context.Context, id uuid.UUID, newStart time.Time, actor appointment.Actor) (*appointment.Appointment, error) {
			assert.Equal(t, time.Date(2026, 6, 3, 14, 30, 0, 0, time.UTC), newStart)
			return want, nil
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodPost,
		fmt.Sprintf("/appointments/%s/reschedule", uuid.New()),
		map[string]string{"new_date": "2026-06-03", "new_time": "14:30"},
		uuid.New(), "clinic")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDoctorAppointmentsHandlerFiltersStatus(t *testing.T) {
	doctorID := uuid.New()
	svc := &stubScheduler{
		listFn: func(_ context.Context, gotDoctor uuid.UUID, q appointment.ListQuery) ([]appointment.Appointment, error) {
			assert.Equal(t, doctorID, gotDoctor)
			require.NotNil(t, q.Status)
			assert.Equal(t, appointment.StatusScheduled, *q.Status)
			return []appointment.Appointment{*sampleAppointment()}, nil
		},
	}
	rec := doRequest(t, testRouter(svc), http.MethodGet,
		fmt.Sprintf("/doctors/%s/appointments?status=scheduled", doctorID), nil,
		uuid.New(), "doctor")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 1)
}
