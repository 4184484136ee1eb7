package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ReminderKind string

const (
	Reminder24h ReminderKind = "reminder_24h"
	Reminder2h  ReminderKind = "reminder_2h"
)

// ListQuery filters doctor appointment listings.
type ListQuery struct {
	Status *Status
	Day    *time.Time
	Limit  int
	Offset int
}

// Repository contains all DB interactions needed by the service. Operations
// documented as transactional run their statements in a single transaction;
// the interval exclusion constraint in the schema backs the overlap checks.
type Repository interface {
	// Reserve atomically re-checks the requested interval for overlap within
	// its exclusivity domain and inserts the appointment. Returns
	// ErrSlotConflict when the interval is held.
	Reserve(ctx context.Context, a *Appointment) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, q ListQuery) ([]Appointment, error)

	// BookedIntervals returns the non-released intervals for one exclusivity
	// domain on one day, for availability computation.
	BookedIntervals(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]Interval, error)

	// UpdateStatus writes the appointment's status and transition fields,
	// compare-and-swapped against the expected prior status. A concurrent
	// writer losing the race gets ErrInvalidTransition and must reload.
	UpdateStatus(ctx context.Context, a *Appointment, from Status) error

	// Complete performs the completion transaction: status CAS, relationship
	// upsert (skipped when no doctor is assigned), and history snapshot
	// insert. All or nothing.
	Complete(ctx context.Context, a *Appointment, from Status, hist HistoryRecord) error

	// Reschedule reserves the replacement and retires the original in one
	// transaction. On ErrSlotConflict the original is untouched.
	Reschedule(ctx context.Context, old *Appointment, from Status, replacement *Appointment) error

	// FindPaymentExpired returns pending-payment appointments created at or
	// before the cutoff, for the background sweep.
	FindPaymentExpired(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// FindDueReminders returns appointments starting inside (from, to] whose
	// reminder of the given kind has not been sent.
	FindDueReminders(ctx context.Context, kind ReminderKind, from, to time.Time) ([]Appointment, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, kind ReminderKind, at time.Time) error

	GetRelationship(ctx context.Context, doctorID, patientID uuid.UUID) (*RelationshipRecord, error)
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryRecord, error)

	// GetProfileNames resolves display names from the profile directory
	// tables. Doubles as the existence check for booking parties.
	GetProfileNames(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, patientID uuid.UUID) (ProfileNames, error)

	InsertAuditEvent(ctx context.Context, ev AuditEvent) error
}
