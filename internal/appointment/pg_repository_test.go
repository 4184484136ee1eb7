package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func mockAppointment() *Appointment {
	doctorID := uuid.New()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	return &Appointment{
		ID:            uuid.New(),
		PatientID:     uuid.New(),
		ClinicID:      uuid.New(),
		DoctorID:      &doctorID,
		StartsAt:      now.Add(24 * time.Hour),
		DurationMins:  30,
		Type:          TypeConsultation,
		Priority:      PriorityNormal,
		Status:        StatusScheduled,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// insertArgs and updateArgs spell the statement parameters out positionally,
// so a reordered column in the SQL fails these tests.
func insertArgs(a *Appointment) []any {
	return []any{
		a.ID, a.PatientID, a.ClinicID, a.DoctorID, a.Room,
		a.StartsAt, a.DurationMins, a.Type, a.Priority, a.Status,
		a.ConsultationFee, a.PaymentStatus, a.PaymentAmount,
		a.ParentAppointmentID, a.IsFollowUp, a.FollowUpDate, a.FollowUpNotes,
		a.PatientNotes, a.DoctorNotes, a.Diagnosis, a.TreatmentPlan,
		a.CreatedAt,
	}
}

func updateArgs(a *Appointment, from Status) []any {
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

func historyArgs(h HistoryRecord) []any {
	return []any{
		h.ID, h.AppointmentID,
		h.ClinicID, h.DoctorID, h.PatientID,
		h.ClinicName, h.DoctorName, h.PatientName,
		h.StartsAt, h.DurationMins, h.Type,
		h.Diagnosis, h.TreatmentPlan, h.DoctorNotes,
		h.FollowUpDate, h.FollowUpNotes,
		h.ConsultationFee, h.PaymentStatus,
		h.CreatedAt,
	}
}

func TestPgReserveInsertsWhenFree(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count").
		WithArgs(a.ClinicID, *a.DoctorID, a.EndsAt(), a.StartsAt, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs(a)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.Reserve(context.Background(), a)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReserveOverlapYieldsSlotConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count").
		WithArgs(a.ClinicID, *a.DoctorID, a.EndsAt(), a.StartsAt, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Reserve(context.Background(), a)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReserveExclusionConstraintYieldsSlotConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count").
		WithArgs(a.ClinicID, *a.DoctorID, a.EndsAt(), a.StartsAt, (*uuid.UUID)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs(a)...).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_doctor_no_overlap"})
	mock.ExpectRollback()

	err := repo.Reserve(context.Background(), a)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReserveAdvisorySkipsOverlapCheck(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()
	a.DoctorID = nil
	a.Room = nil

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs(a)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.Reserve(context.Background(), a)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusCASMissIsInvalidTransition(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()
	a.Status = StatusConfirmed

	mock.ExpectExec("UPDATE appointments").
		WithArgs(updateArgs(a, StatusScheduled)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateStatus(context.Background(), a, StatusScheduled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusCASHit(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()
	a.Status = StatusConfirmed

	mock.ExpectExec("UPDATE appointments").
		WithArgs(updateArgs(a, StatusScheduled)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateStatus(context.Background(), a, StatusScheduled)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompleteRunsOneTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()
	a.Status = StatusCompleted

	hist := HistoryRecord{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		ClinicID:      a.ClinicID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		ClinicName:    "Northside Clinic",
		DoctorName:    "Dr. Reyes",
		PatientName:   "Sam Okafor",
		StartsAt:      a.StartsAt,
		DurationMins:  a.DurationMins,
		Type:          a.Type,
		CreatedAt:     time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(updateArgs(a, StatusInProgress)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO relationship_records").
		WithArgs(*a.DoctorID, a.PatientID, a.Day(), false, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointment_history").
		WithArgs(historyArgs(hist)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.Complete(context.Background(), a, StatusInProgress, hist)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompleteWithoutDoctorSkipsRelationship(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := mockAppointment()
	a.DoctorID = nil
	room := "exam-1"
	a.Room = &room
	a.Status = StatusCompleted
	hist := HistoryRecord{ID: uuid.New(), AppointmentID: a.ID}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(updateArgs(a, StatusInProgress)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO appointment_history").
		WithArgs(historyArgs(hist)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.Complete(context.Background(), a, StatusInProgress, hist)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleConflictRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)
	old := mockAppointment()
	replacement := mockAppointment()
	replacement.DoctorID = old.DoctorID
	replacement.ClinicID = old.ClinicID

	retired := *old
	retired.Status = StatusRescheduled
	retired.RescheduledTo = &replacement.ID

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count").
		WithArgs(replacement.ClinicID, *replacement.DoctorID, replacement.EndsAt(), replacement.StartsAt, &old.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Reschedule(context.Background(), &retired, StatusScheduled, replacement)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A move that overlaps only the appointment's own current slot must succeed.
// The original has to leave its active status before the replacement row is
// inserted, or the schema's exclusion constraint sees a self-collision.
func TestPgRescheduleRetiresOriginalBeforeInsert(t *testing.T) {
	mock, repo := newMockRepo(t)
	old := mockAppointment()

	replacement := mockAppointment()
	replacement.ClinicID = old.ClinicID
	replacement.DoctorID = old.DoctorID
	replacement.PatientID = old.PatientID
	replacement.StartsAt = old.StartsAt.Add(15 * time.Minute)

	retired := *old
	retired.Status = StatusRescheduled
	retired.RescheduledTo = &replacement.ID

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count").
		WithArgs(replacement.ClinicID, *replacement.DoctorID, replacement.EndsAt(), replacement.StartsAt, &old.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(updateArgs(&retired, StatusScheduled)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(insertArgs(replacement)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.Reschedule(context.Background(), &retired, StatusScheduled, replacement)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkReminderSentPicksColumn(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("reminder_2h_sent_at").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkReminderSent(context.Background(), id, Reminder2h, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetProfileNamesNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	clinicID := uuid.New()
	patientID := uuid.New()

	mock.ExpectQuery("SELECT name FROM clinics").
		WithArgs(clinicID).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetProfileNames(context.Background(), clinicID, nil, patientID)
	assert.ErrorIs(t, err, ErrClinicNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
