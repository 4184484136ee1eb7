package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/metrics"
)

// Scheduler is the engine surface the handlers need. Satisfied by
// *appointment.Service; narrowed to an interface so handler tests can stub it.
type Scheduler interface {
	Book(ctx context.Context, cmd appointment.BookCommand, actor appointment.Actor) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, target appointment.Status, actor appointment.Actor, opts appointment.TransitionOptions) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)
	ConfirmPayment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, actor appointment.Actor) (*appointment.Appointment, error)
	AvailableSlots(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]appointment.Interval, error)
	DoctorAppointments(ctx context.Context, doctorID uuid.UUID, q appointment.ListQuery) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetRelationship(ctx context.Context, doctorID, patientID uuid.UUID) (*appointment.RelationshipRecord, error)
	AppointmentHistory(ctx context.Context, appointmentID uuid.UUID) ([]appointment.HistoryRecord, error)
}

func bookAppointmentHandler(svc Scheduler, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		var doctorID *uuid.UUID
		if req.DoctorID != nil {
			id, err := uuid.Parse(*req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		var parentID *uuid.UUID
		if req.ParentAppointmentID != nil {
			id, err := uuid.Parse(*req.ParentAppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_parent_appointment_id", "parent_appointment_id must be a valid UUID")
				return
			}
			parentID = &id
		}

		startsAt, err := parseDayTime(req.Date, req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
			return
		}

		// Patients book for themselves only.
		if actor.Role == appointment.RolePatient && actor.ID != patientID {
			writeError(w, http.StatusForbidden, "forbidden", "patients can only book their own appointments")
			return
		}

		cmd := appointment.BookCommand{
			PatientID:           patientID,
			ClinicID:            clinicID,
			DoctorID:            doctorID,
			Room:                req.Room,
			StartsAt:            startsAt,
			DurationMins:        req.DurationMins,
			Type:                appointment.AppointmentType(req.Type),
			Priority:            appointment.Priority(req.Priority),
			ConsultationFee:     req.ConsultationFee,
			ParentAppointmentID: parentID,
			PatientNotes:        req.PatientNotes,
		}

		appt, err := svc.Book(r.Context(), cmd, actor)
		if err != nil {
			if col != nil {
				switch {
				case errors.Is(err, appointment.ErrSlotConflict), errors.Is(err, appointment.ErrReservationContended):
					col.SlotConflictsTotal.Inc()
					col.BookingsTotal.WithLabelValues("conflict").Inc()
				default:
					col.BookingsTotal.WithLabelValues("rejected").Inc()
				}
			}
			handleDomainError(w, err)
			return
		}

		if col != nil {
			col.BookingsTotal.WithLabelValues("created").Inc()
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionHandler(svc Scheduler, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		target := appointment.Status(req.TargetStatus)

		// Patients may cancel; progressing the lifecycle is staff work.
		if actor.Role == appointment.RolePatient && target != appointment.StatusCancelled {
			writeError(w, http.StatusForbidden, "forbidden", "patients may only cancel appointments")
			return
		}

		appt, err := svc.Transition(r.Context(), id, target, actor, appointment.TransitionOptions{
			Reason:        req.Reason,
			Diagnosis:     req.Diagnosis,
			TreatmentPlan: req.TreatmentPlan,
			DoctorNotes:   req.DoctorNotes,
			FollowUpDate:  req.FollowUpDate,
			FollowUpNotes: req.FollowUpNotes,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if col != nil {
			col.TransitionsTotal.WithLabelValues(string(target)).Inc()
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc Scheduler, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actor, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if col != nil {
			col.TransitionsTotal.WithLabelValues(string(appointment.StatusCancelled)).Inc()
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmPaymentHandler(svc Scheduler, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.ConfirmPayment(r.Context(), id, actor)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if col != nil {
			col.TransitionsTotal.WithLabelValues(string(appointment.StatusPaymentConfirmed)).Inc()
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc Scheduler, col *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		newStart, err := parseDayTime(req.NewDate, req.NewTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, newStart, actor)
		if err != nil {
			if col != nil && (errors.Is(err, appointment.ErrSlotConflict) || errors.Is(err, appointment.ErrReservationContended)) {
				col.SlotConflictsTotal.Inc()
			}
			handleDomainError(w, err)
			return
		}

		if col != nil {
			col.TransitionsTotal.WithLabelValues(string(appointment.StatusRescheduled)).Inc()
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseIDParam(w, r, "clinicID")
		if !ok {
			return
		}

		var doctorID *uuid.UUID
		if s := r.URL.Query().Get("doctor_id"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		var room *string
		if s := r.URL.Query().Get("room"); s != "" {
			room = &s
		}

		dateStr := r.URL.Query().Get("date")
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be 2006-01-02")
			return
		}

		free, err := svc.AvailableSlots(r.Context(), clinicID, doctorID, room, day)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := AvailableSlotsResponse{Date: dateStr}
		for _, iv := range free {
			resp.Free = append(resp.Free, SlotResponse{Start: iv.Start, End: iv.End})
		}
		for _, iv := range appointment.SplitIntoSlots(free, 30) {
			resp.Slots = append(resp.Slots, SlotResponse{Start: iv.Start, End: iv.End})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func doctorAppointmentsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		var q appointment.ListQuery
		if s := r.URL.Query().Get("status"); s != "" {
			st := appointment.Status(s)
			q.Status = &st
		}
		if s := r.URL.Query().Get("date"); s != "" {
			day, err := time.Parse("2006-01-02", s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be 2006-01-02")
				return
			}
			q.Day = &day
		}

		appts, err := svc.DoctorAppointments(r.Context(), doctorID, q)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func appointmentHistoryHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		records, err := svc.AppointmentHistory(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		out := make([]HistoryResponse, 0, len(records))
		for _, h := range records {
			out = append(out, HistoryResponse{
				ID:            h.ID,
				AppointmentID: h.AppointmentID,
				ClinicName:    h.ClinicName,
				DoctorName:    h.DoctorName,
				PatientName:   h.PatientName,
				StartsAt:      h.StartsAt,
				DurationMins:  h.DurationMins,
				Type:          string(h.Type),
				Diagnosis:     h.Diagnosis,
				TreatmentPlan: h.TreatmentPlan,
				FollowUpDate:  h.FollowUpDate,
				CreatedAt:     h.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func relationshipHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		if !roleAllowed(actor, appointment.RoleDoctor, appointment.RoleClinic, appointment.RoleAdmin) {
			writeError(w, http.StatusForbidden, "forbidden", "relationship records are staff-only")
			return
		}

		doctorID, ok := parseIDParam(w, r, "doctorID")
		if !ok {
			return
		}
		patientID, ok := parseIDParam(w, r, "patientID")
		if !ok {
			return
		}

		rec, err := svc.GetRelationship(r.Context(), doctorID, patientID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, RelationshipResponse{
			DoctorID:            rec.DoctorID,
			PatientID:           rec.PatientID,
			FirstEncounterDate:  rec.FirstEncounterDate,
			LastAppointmentDate: rec.LastAppointmentDate,
			TotalAppointments:   rec.TotalAppointments,
			IsActive:            rec.IsActive,
			RequiresFollowUp:    rec.RequiresFollowUp,
			FollowUpDate:        rec.FollowUpDate,
		})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleDomainError maps engine errors onto HTTP responses. Internal detail
// never leaks on unexpected failures.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound),
		errors.Is(err, appointment.ErrClinicNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot already taken, choose another time or check available slots")
	case errors.Is(err, appointment.ErrReservationContended):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrParentNotCompleted):
		writeError(w, http.StatusConflict, "parent_not_completed", err.Error())
	case errors.Is(err, appointment.ErrPaymentDeclined):
		writeError(w, http.StatusPaymentRequired, "payment_declined", err.Error())
	case errors.Is(err, appointment.ErrDependency):
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", "temporary problem, please retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
