package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID string  `json:"patient_id"`
	ClinicID  string  `json:"clinic_id"`
	DoctorID  *string `json:"doctor_id,omitempty"`
	Room      *string `json:"room,omitempty"`

	Date         string `json:"date"` // 2006-01-02
	Time         string `json:"time"` // 15:04
	DurationMins int    `json:"duration_mins,omitempty"`

	Type     string `json:"type"`
	Priority string `json:"priority,omitempty"`

	ConsultationFee     float64 `json:"consultation_fee,omitempty"`
	ParentAppointmentID *string `json:"parent_appointment_id,omitempty"`

	PatientNotes string `json:"patient_notes,omitempty"`
}

type TransitionRequest struct {
	TargetStatus  string     `json:"target_status"`
	Reason        string     `json:"reason,omitempty"`
	Diagnosis     string     `json:"diagnosis,omitempty"`
	TreatmentPlan string     `json:"treatment_plan,omitempty"`
	DoctorNotes   string     `json:"doctor_notes,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
	FollowUpNotes string     `json:"follow_up_notes,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	NewDate string `json:"new_date"` // 2006-01-02
	NewTime string `json:"new_time"` // 15:04
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	ClinicID  uuid.UUID  `json:"clinic_id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Room      *string    `json:"room,omitempty"`

	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	DurationMins int       `json:"duration_mins"`

	Type     string `json:"type"`
	Priority string `json:"priority"`
	Status   string `json:"status"`

	ConsultationFee float64  `json:"consultation_fee"`
	PaymentStatus   string   `json:"payment_status"`
	PaymentAmount   *float64 `json:"payment_amount,omitempty"`

	ParentAppointmentID *uuid.UUID `json:"parent_appointment_id,omitempty"`
	IsFollowUp          bool       `json:"is_follow_up,omitempty"`
	FollowUpDate        *time.Time `json:"follow_up_date,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RescheduledTo      *uuid.UUID `json:"rescheduled_to,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		ClinicID:            a.ClinicID,
		DoctorID:            a.DoctorID,
		Room:                a.Room,
		StartsAt:            a.StartsAt,
		EndsAt:              a.EndsAt(),
		DurationMins:        a.DurationMins,
		Type:                string(a.Type),
		Priority:            string(a.Priority),
		Status:              string(a.Status),
		ConsultationFee:     a.ConsultationFee,
		PaymentStatus:       string(a.PaymentStatus),
		PaymentAmount:       a.PaymentAmount,
		ParentAppointmentID: a.ParentAppointmentID,
		IsFollowUp:          a.IsFollowUp,
		FollowUpDate:        a.FollowUpDate,
		CancelledAt:         a.CancelledAt,
		CancellationReason:  a.CancellationReason,
		RescheduledTo:       a.RescheduledTo,
		CompletedAt:         a.CompletedAt,
		CreatedAt:           a.CreatedAt,
	}
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AvailableSlotsResponse struct {
	Date  string         `json:"date"`
	Free  []SlotResponse `json:"free"`
	Slots []SlotResponse `json:"slots,omitempty"`
}

type RelationshipResponse struct {
	DoctorID            uuid.UUID  `json:"doctor_id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	FirstEncounterDate  time.Time  `json:"first_encounter_date"`
	LastAppointmentDate time.Time  `json:"last_appointment_date"`
	TotalAppointments   int        `json:"total_appointments"`
	IsActive            bool       `json:"is_active"`
	RequiresFollowUp    bool       `json:"requires_follow_up"`
	FollowUpDate        *time.Time `json:"follow_up_date,omitempty"`
}

type HistoryResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	ClinicName    string     `json:"clinic_name"`
	DoctorName    string     `json:"doctor_name,omitempty"`
	PatientName   string     `json:"patient_name"`
	StartsAt      time.Time  `json:"starts_at"`
	DurationMins  int        `json:"duration_mins"`
	Type          string     `json:"type"`
	Diagnosis     string     `json:"diagnosis,omitempty"`
	TreatmentPlan string     `json:"treatment_plan,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// parseDayTime combines "2006-01-02" and "15:04" request fields into one UTC
// instant.
func parseDayTime(date, clock string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04", fmt.Sprintf("%s %s", date, clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("expected date as 2006-01-02 and time as 15:04: %w", err)
	}
	return t.UTC(), nil
}
