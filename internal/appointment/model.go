package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment   Status = "pending_payment"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusScheduled        Status = "scheduled"
	StatusConfirmed        Status = "confirmed"
	StatusCheckedIn        Status = "checked_in"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusNoShow           Status = "no_show"
	StatusRescheduled      Status = "rescheduled"
	StatusRefunded         Status = "refunded"
)

type AppointmentType string

const (
	TypeConsultation    AppointmentType = "consultation"
	TypeFollowUp        AppointmentType = "follow_up"
	TypeEmergency       AppointmentType = "emergency"
	TypeRoutineCheckup  AppointmentType = "routine_checkup"
	TypeSpecialistVisit AppointmentType = "specialist_visit"
	TypeProcedure       AppointmentType = "procedure"
	TypeSurgery         AppointmentType = "surgery"
	TypeLabTest         AppointmentType = "lab_test"
	TypeImaging         AppointmentType = "imaging"
	TypeVaccination     AppointmentType = "vaccination"
	TypePhysicalTherapy AppointmentType = "physical_therapy"
	TypeMentalHealth    AppointmentType = "mental_health"
	TypeDental          AppointmentType = "dental"
	TypeVision          AppointmentType = "vision"
	TypeOther           AppointmentType = "other"
)

func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeRoutineCheckup,
		TypeSpecialistVisit, TypeProcedure, TypeSurgery, TypeLabTest, TypeImaging,
		TypeVaccination, TypePhysicalTherapy, TypeMentalHealth, TypeDental,
		TypeVision, TypeOther:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Actor identifies who is performing an operation. Resolved by the API
// boundary (JWT); the engine trusts it.
type Actor struct {
	ID   uuid.UUID
	Role string
}

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleClinic  = "clinic"
	RoleAdmin   = "admin"
	RoleSystem  = "system"
)

// Appointment is the source-of-truth scheduling entity.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	ClinicID  uuid.UUID
	DoctorID  *uuid.UUID // may be assigned after creation
	Room      *string    // exclusivity fallback when no doctor is assigned

	StartsAt     time.Time
	DurationMins int

	Type     AppointmentType
	Priority Priority
	Status   Status

	ConsultationFee float64
	PaymentStatus   PaymentStatus
	PaymentAmount   *float64

	ParentAppointmentID *uuid.UUID
	IsFollowUp          bool
	FollowUpDate        *time.Time
	FollowUpNotes       string

	// Opaque clinical text, never interpreted here.
	PatientNotes  string
	DoctorNotes   string
	Diagnosis     string
	TreatmentPlan string

	ConfirmedAt   *time.Time
	CheckedInAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	RescheduledAt *time.Time

	CancelledBy        *uuid.UUID
	CancellationReason string
	RescheduledTo      *uuid.UUID // replacement appointment, set when status = rescheduled

	Reminder24SentAt *time.Time
	Reminder2SentAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

// Day returns the appointment's calendar day at midnight UTC.
func (a *Appointment) Day() time.Time {
	y, m, d := a.StartsAt.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReservationKey identifies the exclusivity domain the appointment competes
// in: per doctor when one is assigned, per room otherwise. Appointments with
// neither are advisory only and share a catch-all key so their bookings still
// serialize cheaply.
func (a *Appointment) ReservationKey() string {
	day := a.Day().Format("2006-01-02")
	switch {
	case a.DoctorID != nil:
		return fmt.Sprintf("%s:doc:%s:%s", a.ClinicID, a.DoctorID, day)
	case a.Room != nil:
		return fmt.Sprintf("%s:room:%s:%s", a.ClinicID, *a.Room, day)
	default:
		return fmt.Sprintf("%s:any:%s", a.ClinicID, day)
	}
}

// Exclusive reports whether the appointment participates in slot exclusivity.
func (a *Appointment) Exclusive() bool {
	return a.DoctorID != nil || a.Room != nil
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// RelationshipRecord is the doctor-patient engagement rollup. One row per
// pair, created on first completed encounter, never deleted.
type RelationshipRecord struct {
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	FirstEncounterDate time.Time
	LastAppointmentDate time.Time
	TotalAppointments  int
	IsActive           bool
	RequiresFollowUp   bool
	FollowUpDate       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HistoryRecord is an immutable completed-appointment snapshot. Provider
// names are denormalized at write time so later profile edits cannot
// retroactively alter history. Corrections append a new record for the same
// appointment, they never update.
type HistoryRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID

	ClinicID   uuid.UUID
	DoctorID   *uuid.UUID
	PatientID  uuid.UUID
	ClinicName string
	DoctorName string
	PatientName string

	StartsAt     time.Time
	DurationMins int
	Type         AppointmentType

	Diagnosis     string
	TreatmentPlan string
	DoctorNotes   string
	FollowUpDate  *time.Time
	FollowUpNotes string

	ConsultationFee float64
	PaymentStatus   PaymentStatus

	CreatedAt time.Time
}

// ProfileNames carries the display names denormalized into a HistoryRecord.
// Supplied by the profile directory, read-only to this engine.
type ProfileNames struct {
	Clinic  string
	Doctor  string
	Patient string
}

// AuditEvent is one row of the append-only transition log.
type AuditEvent struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Actor         *uuid.UUID
	ActorRole     string
	Payload       []byte
	CreatedAt     time.Time
}

// Clock supplies current time so scheduling decisions are testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = realClock{}
