package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it too, which is what the repository tests use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Statuses that hold their interval. Cancelled, no-show, rescheduled and
// refunded rows release the slot.
const activeStatuses = `('pending_payment','payment_confirmed','scheduled','confirmed','checked_in','in_progress','completed')`

const apptColumns = `
	id, patient_id, clinic_id, doctor_id, room,
	starts_at, duration_mins, type, priority, status,
	consultation_fee, payment_status, payment_amount,
	parent_appointment_id, is_follow_up, follow_up_date, follow_up_notes,
	patient_notes, doctor_notes, diagnosis, treatment_plan,
	confirmed_at, checked_in_at, started_at, completed_at, cancelled_at, rescheduled_at,
	cancelled_by, cancellation_reason, rescheduled_to,
	reminder_24h_sent_at, reminder_2h_sent_at,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID, &a.PatientID, &a.ClinicID, &a.DoctorID, &a.Room,
		&a.StartsAt, &a.DurationMins, &a.Type, &a.Priority, &a.Status,
		&a.ConsultationFee, &a.PaymentStatus, &a.PaymentAmount,
		&a.ParentAppointmentID, &a.IsFollowUp, &a.FollowUpDate, &a.FollowUpNotes,
		&a.PatientNotes, &a.DoctorNotes, &a.Diagnosis, &a.TreatmentPlan,
		&a.ConfirmedAt, &a.CheckedInAt, &a.StartedAt, &a.CompletedAt, &a.CancelledAt, &a.RescheduledAt,
		&a.CancelledBy, &a.CancellationReason, &a.RescheduledTo,
		&a.Reminder24SentAt, &a.Reminder2SentAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// isExclusionViolation detects the schema-level interval guard firing.
// SQLSTATE 23P01 is exclusion_violation, 23505 unique_violation.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23P01" || pgErr.Code == "23505"
	}
	return false
}

func (r *PgRepository) Reserve(ctx context.Context, a *Appointment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if a.Exclusive() {
		held, err := r.overlapExists(ctx, tx, a, nil)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if held {
			return ErrSlotConflict
		}
	}

	if err := insertAppointment(ctx, tx, a); err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("commit reserve tx: %w", err)
	}

	return nil
}

// overlapExists re-checks the appointment's interval against live rows in
// its exclusivity domain. exclude skips one row (the original during a
// reschedule).
func (r *PgRepository) overlapExists(ctx context.Context, tx pgx.Tx, a *Appointment, exclude *uuid.UUID) (bool, error) {
	var (
		query string
		args  []any
	)

	if a.DoctorID != nil {
		query = `
			SELECT count(*)
			FROM appointments
			WHERE clinic_id = $1
			  AND doctor_id = $2
			  AND status IN ` + activeStatuses + `
			  AND starts_at < $3
			  AND ends_at > $4
			  AND ($5::uuid IS NULL OR id <> $5)
		`
		args = []any{a.ClinicID, *a.DoctorID, a.EndsAt(), a.StartsAt, exclude}
	} else {
		query = `
			SELECT count(*)
			FROM appointments
			WHERE clinic_id = $1
			  AND doctor_id IS NULL
			  AND room = $2
			  AND status IN ` + activeStatuses + `
			  AND starts_at < $3
			  AND ends_at > $4
			  AND ($5::uuid IS NULL OR id <> $5)
		`
		args = []any{a.ClinicID, *a.Room, a.EndsAt(), a.StartsAt, exclude}
	}

	var count int
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, clinic_id, doctor_id, room,
			starts_at, duration_mins, type, priority, status,
			consultation_fee, payment_status, payment_amount,
			parent_appointment_id, is_follow_up, follow_up_date, follow_up_notes,
			patient_notes, doctor_notes, diagnosis, treatment_plan,
			cancellation_reason, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21,
			'', $22, $22
		)
	`,
		a.ID, a.PatientID, a.ClinicID, a.DoctorID, a.Room,
		a.StartsAt, a.DurationMins, a.Type, a.Priority, a.Status,
		a.ConsultationFee, a.PaymentStatus, a.PaymentAmount,
		a.ParentAppointmentID, a.IsFollowUp, a.FollowUpDate, a.FollowUpNotes,
		a.PatientNotes, a.DoctorNotes, a.Diagnosis, a.TreatmentPlan,
		a.CreatedAt,
	)
	return err
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+apptColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, q ListQuery) ([]Appointment, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var dayStart, dayEnd *time.Time
	if q.Day != nil {
		y, m, d := q.Day.UTC().Date()
		s := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		e := s.Add(24 * time.Hour)
		dayStart, dayEnd = &s, &e
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR (starts_at >= $3 AND starts_at < $4))
		ORDER BY starts_at
		LIMIT $5 OFFSET $6
	`, doctorID, q.Status, dayStart, dayEnd, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) BookedIntervals(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]Interval, error) {
	y, m, d := day.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := r.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM appointments
		WHERE clinic_id = $1
		  AND ($2::uuid IS NULL OR doctor_id = $2)
		  AND ($2::uuid IS NOT NULL OR ($3::text IS NULL OR room = $3))
		  AND status IN `+activeStatuses+`
		  AND starts_at >= $4
		  AND starts_at < $5
		ORDER BY starts_at
	`, clinicID, doctorID, room, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const updateStatusSQL = `
	UPDATE appointments
	SET status = $2,
	    payment_status = $3,
	    payment_amount = $4,
	    confirmed_at = $5,
	    checked_in_at = $6,
	    started_at = $7,
	    completed_at = $8,
	    cancelled_at = $9,
	    rescheduled_at = $10,
	    cancelled_by = $11,
	    cancellation_reason = $12,
	    rescheduled_to = $13,
	    follow_up_date = $14,
	    follow_up_notes = $15,
	    doctor_notes = $16,
	    diagnosis = $17,
	    treatment_plan = $18,
	    updated_at = $19
	WHERE id = $1
	  AND status = $20`

func statusUpdateArgs(a *Appointment, from Status) []any {
	return []any{
		a.ID, a.Status,
		a.PaymentStatus, a.PaymentAmount,
		a.ConfirmedAt, a.CheckedInAt, a.StartedAt, a.CompletedAt, a.CancelledAt, a.RescheduledAt,
		a.CancelledBy, a.CancellationReason, a.RescheduledTo,
		a.FollowUpDate, a.FollowUpNotes,
		a.DoctorNotes, a.Diagnosis, a.TreatmentPlan,
		a.UpdatedAt, from,
	}
}

func (r *PgRepository) UpdateStatus(ctx context.Context, a *Appointment, from Status) error {
	tag, err := r.db.Exec(ctx, updateStatusSQL, statusUpdateArgs(a, from)...)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The row moved out of `from` under us; the requested edge no
		// longer applies.
		return ErrInvalidTransition
	}
	return nil
}

func (r *PgRepository) Complete(ctx context.Context, a *Appointment, from Status, hist HistoryRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateStatusSQL, statusUpdateArgs(a, from)...)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	if a.DoctorID != nil {
		if err := upsertRelationship(ctx, tx, a); err != nil {
			return fmt.Errorf("upsert relationship: %w", err)
		}
	}

	if err := insertHistory(ctx, tx, hist); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

// upsertRelationship is the RecordEncounter write: atomic insert-or-update
// so concurrent completions for the same pair both count.
func upsertRelationship(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO relationship_records (
			doctor_id, patient_id,
			first_encounter_date, last_appointment_date, total_appointments,
			is_active, requires_follow_up, follow_up_date,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $3, 1, true, $4, $5, now(), now())
		ON CONFLICT (doctor_id, patient_id) DO UPDATE SET
			last_appointment_date = GREATEST(relationship_records.last_appointment_date, EXCLUDED.last_appointment_date),
			total_appointments = relationship_records.total_appointments + 1,
			requires_follow_up = EXCLUDED.requires_follow_up,
			follow_up_date = EXCLUDED.follow_up_date,
			updated_at = now()
	`, *a.DoctorID, a.PatientID, a.Day(), a.FollowUpDate != nil, a.FollowUpDate)
	return err
}

func insertHistory(ctx context.Context, tx pgx.Tx, h HistoryRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_history (
			id, appointment_id,
			clinic_id, doctor_id, patient_id,
			clinic_name, doctor_name, patient_name,
			starts_at, duration_mins, type,
			diagnosis, treatment_plan, doctor_notes,
			follow_up_date, follow_up_notes,
			consultation_fee, payment_status,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		h.ID, h.AppointmentID,
		h.ClinicID, h.DoctorID, h.PatientID,
		h.ClinicName, h.DoctorName, h.PatientName,
		h.StartsAt, h.DurationMins, h.Type,
		h.Diagnosis, h.TreatmentPlan, h.DoctorNotes,
		h.FollowUpDate, h.FollowUpNotes,
		h.ConsultationFee, h.PaymentStatus,
		h.CreatedAt,
	)
	return err
}

func (r *PgRepository) Reschedule(ctx context.Context, old *Appointment, from Status, replacement *Appointment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if replacement.Exclusive() {
		held, err := r.overlapExists(ctx, tx, replacement, &old.ID)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if held {
			return ErrSlotConflict
		}
	}

	// Retire the original before inserting the replacement. The exclusion
	// constraint only ranges over active rows, so this order lets a
	// replacement overlap the slot it is vacating.
	tag, err := tx.Exec(ctx, updateStatusSQL, statusUpdateArgs(old, from)...)
	if err != nil {
		return fmt.Errorf("retire original: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	if err := insertAppointment(ctx, tx, replacement); err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert replacement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("commit reschedule tx: %w", err)
	}
	return nil
}

func (r *PgRepository) FindPaymentExpired(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'pending_payment'
		  AND created_at <= $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindDueReminders(ctx context.Context, kind ReminderKind, from, to time.Time) ([]Appointment, error) {
	col := "reminder_24h_sent_at"
	if kind == Reminder2h {
		col = "reminder_2h_sent_at"
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status IN ('scheduled','confirmed')
		  AND `+col+` IS NULL
		  AND starts_at > $1
		  AND starts_at <= $2
		ORDER BY starts_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, kind ReminderKind, at time.Time) error {
	col := "reminder_24h_sent_at"
	if kind == Reminder2h {
		col = "reminder_2h_sent_at"
	}

	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET `+col+` = $2, updated_at = $2
		WHERE id = $1 AND `+col+` IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func (r *PgRepository) GetRelationship(ctx context.Context, doctorID, patientID uuid.UUID) (*RelationshipRecord, error) {
	var rec RelationshipRecord

	err := r.db.QueryRow(ctx, `
		SELECT doctor_id, patient_id,
		       first_encounter_date, last_appointment_date, total_appointments,
		       is_active, requires_follow_up, follow_up_date,
		       created_at, updated_at
		FROM relationship_records
		WHERE doctor_id = $1 AND patient_id = $2
	`, doctorID, patientID).Scan(
		&rec.DoctorID, &rec.PatientID,
		&rec.FirstEncounterDate, &rec.LastAppointmentDate, &rec.TotalAppointments,
		&rec.IsActive, &rec.RequiresFollowUp, &rec.FollowUpDate,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, appointment_id,
		       clinic_id, doctor_id, patient_id,
		       clinic_name, doctor_name, patient_name,
		       starts_at, duration_mins, type,
		       diagnosis, treatment_plan, doctor_notes,
		       follow_up_date, follow_up_notes,
		       consultation_fee, payment_status,
		       created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		err := rows.Scan(
			&h.ID, &h.AppointmentID,
			&h.ClinicID, &h.DoctorID, &h.PatientID,
			&h.ClinicName, &h.DoctorName, &h.PatientName,
			&h.StartsAt, &h.DurationMins, &h.Type,
			&h.Diagnosis, &h.TreatmentPlan, &h.DoctorNotes,
			&h.FollowUpDate, &h.FollowUpNotes,
			&h.ConsultationFee, &h.PaymentStatus,
			&h.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetProfileNames(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, patientID uuid.UUID) (ProfileNames, error) {
	var names ProfileNames

	if err := r.db.QueryRow(ctx, `SELECT name FROM clinics WHERE id = $1`, clinicID).Scan(&names.Clinic); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProfileNames{}, ErrClinicNotFound
		}
		return ProfileNames{}, err
	}

	if err := r.db.QueryRow(ctx, `SELECT name FROM patients WHERE id = $1`, patientID).Scan(&names.Patient); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProfileNames{}, ErrPatientNotFound
		}
		return ProfileNames{}, err
	}

	if doctorID != nil {
		if err := r.db.QueryRow(ctx, `SELECT name FROM doctors WHERE id = $1`, *doctorID).Scan(&names.Doctor); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ProfileNames{}, ErrDoctorNotFound
			}
			return ProfileNames{}, err
		}
	}

	return names, nil
}

func (r *PgRepository) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, actor_role, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.Actor, ev.ActorRole, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
