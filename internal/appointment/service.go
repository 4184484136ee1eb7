package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/notify"
	"github.com/clinicore/scheduling/internal/payment"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

const (
	EventBooked           = "APPOINTMENT_BOOKED"
	EventTransition       = "APPOINTMENT_TRANSITION"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
	EventPaymentDeclined  = "PAYMENT_DECLINED"
	EventRescheduled      = "APPOINTMENT_RESCHEDULED"
	EventSweepCancelled   = "PAYMENT_TIMEOUT_CANCELLED"
)

var ErrPaymentDeclined = errors.New("payment declined")

type Service struct {
	repo       Repository
	locker     redisclient.Locker
	dispatcher notify.Dispatcher
	gateway    payment.Gateway
	clock      Clock
	cfg        config.Config
	log        *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, dispatcher notify.Dispatcher, gateway payment.Gateway, clock Clock, cfg config.Config, log *zap.Logger) *Service {
	if clock == nil {
		clock = SystemClock
	}
	return &Service{
		repo:       repo,
		locker:     locker,
		dispatcher: dispatcher,
		gateway:    gateway,
		clock:      clock,
		cfg:        cfg,
		log:        log,
	}
}

func (s *Service) hours() OperatingHours {
	return OperatingHours{OpenHour: s.cfg.ClinicOpenHour, CloseHour: s.cfg.ClinicCloseHour}
}

// BookCommand carries a booking request. DoctorID, Room and the follow-up
// linkage are optional.
type BookCommand struct {
	PatientID uuid.UUID
	ClinicID  uuid.UUID
	DoctorID  *uuid.UUID
	Room      *string

	StartsAt     time.Time
	DurationMins int

	Type     AppointmentType
	Priority Priority

	ConsultationFee     float64
	ParentAppointmentID *uuid.UUID

	PatientNotes string
}

// Book reserves the requested slot. Exactly one of any set of concurrent
// requests for an overlapping interval wins; the rest get ErrSlotConflict
// (or ErrReservationContended while the winner still holds the lock).
func (s *Service) Book(ctx context.Context, cmd BookCommand, actor Actor) (*Appointment, error) {
	now := s.clock.Now()

	if cmd.DurationMins == 0 {
		cmd.DurationMins = 30
	}
	if cmd.Priority == "" {
		cmd.Priority = PriorityNormal
	}
	if err := s.validateBooking(&cmd, now); err != nil {
		return nil, err
	}

	// Existence check for all parties, and the names are needed again at
	// completion time anyway.
	if _, err := s.repo.GetProfileNames(ctx, cmd.ClinicID, cmd.DoctorID, cmd.PatientID); err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       cmd.PatientID,
		ClinicID:        cmd.ClinicID,
		DoctorID:        cmd.DoctorID,
		Room:            cmd.Room,
		StartsAt:        cmd.StartsAt,
		DurationMins:    cmd.DurationMins,
		Type:            cmd.Type,
		Priority:        cmd.Priority,
		ConsultationFee: cmd.ConsultationFee,
		PaymentStatus:   PaymentPending,
		PatientNotes:    cmd.PatientNotes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if cmd.ParentAppointmentID != nil {
		parent, err := s.repo.GetByID(ctx, *cmd.ParentAppointmentID)
		if err != nil {
			return nil, fmt.Errorf("load parent appointment: %w", err)
		}
		if parent.Status != StatusCompleted {
			return nil, ErrParentNotCompleted
		}
		a.ParentAppointmentID = &parent.ID
		a.IsFollowUp = true
		if a.Type == "" {
			a.Type = TypeFollowUp
		}
		a.ConsultationFee = ComputeFollowUpFee(parent.StartsAt, cmd.StartsAt, parent.ConsultationFee)
	}

	if a.ConsultationFee > 0 {
		a.Status = StatusPendingPayment
	} else {
		a.Status = StatusScheduled
	}

	err := s.locker.WithReservationLock(ctx, a.ReservationKey(), func(lockCtx context.Context) error {
		return s.repo.Reserve(lockCtx, a)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrReservationContended
		}
		return nil, err
	}

	s.audit(ctx, EventBooked, a.ID, actor, map[string]any{
		"clinic_id": a.ClinicID.String(),
		"starts_at": a.StartsAt,
		"status":    a.Status,
	})
	s.emit(ctx, notify.EventBooked, a, nil)

	s.log.Info("appointment booked",
		zap.String("appointment_id", a.ID.String()),
		zap.String("clinic_id", a.ClinicID.String()),
		zap.Time("starts_at", a.StartsAt),
		zap.String("status", string(a.Status)))

	return a, nil
}

func (s *Service) validateBooking(cmd *BookCommand, now time.Time) error {
	if cmd.Type == "" && cmd.ParentAppointmentID != nil {
		cmd.Type = TypeFollowUp
	}
	if !cmd.Type.IsValid() {
		return fmt.Errorf("%w: unknown appointment type %q", ErrValidation, cmd.Type)
	}
	if !cmd.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, cmd.Priority)
	}
	if cmd.DurationMins < 5 || cmd.DurationMins > 480 {
		return fmt.Errorf("%w: duration must be between 5 and 480 minutes", ErrValidation)
	}
	if cmd.ConsultationFee < 0 {
		return fmt.Errorf("%w: consultation fee cannot be negative", ErrValidation)
	}

	iv := Interval{Start: cmd.StartsAt, End: cmd.StartsAt.Add(time.Duration(cmd.DurationMins) * time.Minute)}
	if !s.hours().Contains(iv) {
		return fmt.Errorf("%w: requested time is outside clinic hours (%02d:00-%02d:00)",
			ErrValidation, s.cfg.ClinicOpenHour, s.cfg.ClinicCloseHour)
	}
	// Same-day grace so a booking typed at 09:00:30 for 09:00 still lands.
	if cmd.StartsAt.Before(now.Add(-s.cfg.PastGrace)) {
		return fmt.Errorf("%w: cannot book an appointment in the past", ErrValidation)
	}
	return nil
}

// TransitionOptions carries the optional fields a transition may set.
// Clinical outcome fields only apply when completing.
type TransitionOptions struct {
	Reason        string
	Diagnosis     string
	TreatmentPlan string
	DoctorNotes   string
	FollowUpDate  *time.Time
	FollowUpNotes string
}

// Transition moves an appointment along one legal lifecycle edge and runs
// the side effects the target state demands. Completion is atomic with its
// relationship and history writes; notifications are fire-and-forget.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor Actor, opts TransitionOptions) (*Appointment, error) {
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.CanTransitionTo(target) {
		s.log.Warn("illegal transition requested",
			zap.String("appointment_id", id.String()),
			zap.String("from", string(a.Status)),
			zap.String("to", string(target)),
			zap.String("actor_role", actor.Role))
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, target)
	}

	now := s.clock.Now()
	from := a.Status
	updated := *a
	updated.applyTransition(target, now)

	switch target {
	case StatusCancelled, StatusNoShow:
		updated.CancelledBy = &actor.ID
		updated.CancellationReason = opts.Reason
		s.applyRefund(&updated, now)
	case StatusRefunded:
		updated.PaymentStatus = PaymentRefunded
		s.refundAsync(&updated, refundableAmount(&updated))
	case StatusCompleted:
		updated.Diagnosis = opts.Diagnosis
		updated.TreatmentPlan = opts.TreatmentPlan
		updated.DoctorNotes = opts.DoctorNotes
		updated.FollowUpDate = opts.FollowUpDate
		updated.FollowUpNotes = opts.FollowUpNotes
	}

	if target == StatusCompleted {
		names, err := s.repo.GetProfileNames(ctx, updated.ClinicID, updated.DoctorID, updated.PatientID)
		if err != nil {
			return nil, fmt.Errorf("resolve profile names: %w", err)
		}
		hist := buildHistory(&updated, names, now)
		if err := s.repo.Complete(ctx, &updated, from, hist); err != nil {
			return nil, err
		}
	} else {
		if err := s.repo.UpdateStatus(ctx, &updated, from); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, EventTransition, updated.ID, actor, map[string]any{
		"from":   from,
		"to":     target,
		"reason": opts.Reason,
	})
	s.emit(ctx, eventForTransition(target), &updated, nil)

	if target == StatusCompleted && updated.FollowUpDate != nil {
		s.emit(ctx, notify.EventFollowUpRecommended, &updated, nil)
	}

	return &updated, nil
}

// Cancel is Transition sugar with the reason made mandatory.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}
	return s.Transition(ctx, id, StatusCancelled, actor, TransitionOptions{Reason: reason})
}

// applyRefund runs refund eligibility on cancellation. Refund initiation is
// fire-and-forget to the gateway; the cancellation never waits on it.
func (s *Service) applyRefund(a *Appointment, now time.Time) {
	if a.PaymentStatus != PaymentPaid {
		return
	}
	refund := RefundAmount(refundableAmount(a), now, a.StartsAt)
	if refund <= 0 {
		return
	}
	if refund >= refundableAmount(a) {
		a.PaymentStatus = PaymentRefunded
	} else {
		a.PaymentStatus = PaymentPartiallyRefunded
	}
	s.refundAsync(a, refund)
}

func refundableAmount(a *Appointment) float64 {
	if a.PaymentAmount != nil {
		return *a.PaymentAmount
	}
	return a.ConsultationFee
}

func (s *Service) refundAsync(a *Appointment, amount float64) {
	if s.gateway == nil || amount <= 0 {
		return
	}
	req := payment.RefundRequest{AppointmentID: a.ID, Amount: amount}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = s.gateway.Refund(ctx, req) // gateway logs failures for reconciliation
	}()
}

// ConfirmPayment charges the consultation fee and, on success, advances
// pending_payment -> payment_confirmed -> scheduled. The gateway call
// happens outside any reservation lock. Gateway unavailability leaves the
// appointment in pending_payment for a retry.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusPaymentConfirmed)
	}

	total := ComputePaymentTotal(a.ConsultationFee, s.cfg.ProcessingFeePercent, s.cfg.ProcessingFeeFixed)

	result, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		Amount:        total,
		Currency:      "USD",
	})
	if err != nil {
		// Appointment stays pending_payment; the caller retries.
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	now := s.clock.Now()

	if !result.Succeeded {
		declined := *a
		declined.PaymentStatus = PaymentFailed
		declined.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, &declined, StatusPendingPayment); err != nil {
			s.log.Error("record declined payment", zap.Error(err), zap.String("appointment_id", a.ID.String()))
		}
		s.audit(ctx, EventPaymentDeclined, a.ID, actor, map[string]any{"reason": result.FailureReason})
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, result.FailureReason)
	}

	updated := *a
	updated.applyTransition(StatusPaymentConfirmed, now)
	updated.PaymentStatus = PaymentPaid
	updated.PaymentAmount = &total
	if err := s.repo.UpdateStatus(ctx, &updated, StatusPendingPayment); err != nil {
		return nil, err
	}
	s.audit(ctx, EventPaymentConfirmed, updated.ID, actor, map[string]any{
		"amount":         total,
		"transaction_id": result.TransactionID,
	})
	s.emit(ctx, notify.EventPaymentConfirmed, &updated, nil)

	// Auto-advance onto the happy path now that money cleared.
	scheduled := updated
	scheduled.applyTransition(StatusScheduled, now)
	if err := s.repo.UpdateStatus(ctx, &scheduled, StatusPaymentConfirmed); err != nil {
		return nil, err
	}
	s.audit(ctx, EventTransition, scheduled.ID, actor, map[string]any{
		"from": StatusPaymentConfirmed,
		"to":   StatusScheduled,
	})

	return &scheduled, nil
}

// Reschedule reserves a new interval and retires the original in one
// repository transaction: if the new slot is taken, the original keeps its
// slot and state.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, actor Actor) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.CanTransitionTo(StatusRescheduled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusRescheduled)
	}

	now := s.clock.Now()
	cmd := BookCommand{
		StartsAt:        newStart,
		DurationMins:    a.DurationMins,
		Type:            a.Type,
		Priority:        a.Priority,
		ConsultationFee: a.ConsultationFee,
	}
	if err := s.validateBooking(&cmd, now); err != nil {
		return nil, err
	}

	replacement := &Appointment{
		ID:                  uuid.New(),
		PatientID:           a.PatientID,
		ClinicID:            a.ClinicID,
		DoctorID:            a.DoctorID,
		Room:                a.Room,
		StartsAt:            newStart,
		DurationMins:        a.DurationMins,
		Type:                a.Type,
		Priority:            a.Priority,
		Status:              StatusScheduled,
		ConsultationFee:     a.ConsultationFee,
		PaymentStatus:       a.PaymentStatus,
		PaymentAmount:       a.PaymentAmount,
		ParentAppointmentID: a.ParentAppointmentID,
		IsFollowUp:          a.IsFollowUp,
		PatientNotes:        a.PatientNotes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	from := a.Status
	retired := *a
	retired.applyTransition(StatusRescheduled, now)
	retired.RescheduledTo = &replacement.ID

	err = s.locker.WithReservationLock(ctx, replacement.ReservationKey(), func(lockCtx context.Context) error {
		return s.repo.Reschedule(lockCtx, &retired, from, replacement)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrReservationContended
		}
		return nil, err
	}

	s.audit(ctx, EventRescheduled, a.ID, actor, map[string]any{
		"replacement_id": replacement.ID.String(),
		"new_starts_at":  newStart,
	})
	s.emit(ctx, notify.EventRescheduled, replacement, nil)

	return replacement, nil
}

// AvailableSlots returns the free intervals for one exclusivity domain on
// one day.
func (s *Service) AvailableSlots(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID, room *string, day time.Time) ([]Interval, error) {
	booked, err := s.repo.BookedIntervals(ctx, clinicID, doctorID, room, day)
	if err != nil {
		return nil, fmt.Errorf("list booked intervals: %w", err)
	}
	return FreeIntervals(s.hours(), day, booked), nil
}

func (s *Service) DoctorAppointments(ctx context.Context, doctorID uuid.UUID, q ListQuery) ([]Appointment, error) {
	if q.Status != nil && !q.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *q.Status)
	}
	return s.repo.ListByDoctor(ctx, doctorID, q)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetRelationship(ctx context.Context, doctorID, patientID uuid.UUID) (*RelationshipRecord, error) {
	return s.repo.GetRelationship(ctx, doctorID, patientID)
}

func (s *Service) AppointmentHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryRecord, error) {
	return s.repo.ListHistory(ctx, appointmentID)
}

// SweepPendingPayments cancels pending-payment appointments whose hold has
// elapsed, releasing their slots. Run periodically by the sweep worker.
func (s *Service) SweepPendingPayments(ctx context.Context) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.PaymentTimeout)

	expired, err := s.repo.FindPaymentExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find expired pending payments: %w", err)
	}

	swept := 0
	for i := range expired {
		a := expired[i]
		updated := a
		updated.applyTransition(StatusCancelled, now)
		updated.CancellationReason = "payment window elapsed"

		if err := s.repo.UpdateStatus(ctx, &updated, StatusPendingPayment); err != nil {
			// Lost a race with a confirm or an explicit cancel; fine.
			if !errors.Is(err, ErrInvalidTransition) {
				s.log.Error("sweep pending payment", zap.Error(err), zap.String("appointment_id", a.ID.String()))
			}
			continue
		}

		s.audit(ctx, EventSweepCancelled, a.ID, Actor{Role: RoleSystem}, map[string]any{
			"created_at": a.CreatedAt,
		})
		s.emit(ctx, notify.EventCancelled, &updated, nil)
		swept++
	}

	return swept, nil
}

// SendDueReminders emits reminder events for appointments entering the
// configured lead windows. Sent-at stamps make repeated runs idempotent.
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	sent := 0

	windows := []struct {
		kind  ReminderKind
		lead  time.Duration
		event notify.EventType
	}{
		{Reminder24h, s.cfg.ReminderLeadLong, notify.EventReminder24h},
		{Reminder2h, s.cfg.ReminderLeadShort, notify.EventReminder2h},
	}

	for _, w := range windows {
		due, err := s.repo.FindDueReminders(ctx, w.kind, now, now.Add(w.lead))
		if err != nil {
			return sent, fmt.Errorf("find due %s reminders: %w", w.kind, err)
		}
		for i := range due {
			a := due[i]
			s.emit(ctx, w.event, &a, &a.StartsAt)
			if err := s.repo.MarkReminderSent(ctx, a.ID, w.kind, now); err != nil {
				s.log.Error("mark reminder sent", zap.Error(err), zap.String("appointment_id", a.ID.String()))
				continue
			}
			sent++
		}
	}

	return sent, nil
}

func eventForTransition(target Status) notify.EventType {
	switch target {
	case StatusConfirmed:
		return notify.EventConfirmed
	case StatusCheckedIn:
		return notify.EventCheckedIn
	case StatusInProgress:
		return notify.EventInProgress
	case StatusCompleted:
		return notify.EventCompleted
	case StatusCancelled, StatusNoShow, StatusRefunded:
		return notify.EventCancelled
	case StatusRescheduled:
		return notify.EventRescheduled
	case StatusPaymentConfirmed:
		return notify.EventPaymentConfirmed
	default:
		return notify.EventBooked
	}
}

func buildHistory(a *Appointment, names ProfileNames, now time.Time) HistoryRecord {
	return HistoryRecord{
		ID:              uuid.New(),
		AppointmentID:   a.ID,
		ClinicID:        a.ClinicID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ClinicName:      names.Clinic,
		DoctorName:      names.Doctor,
		PatientName:     names.Patient,
		StartsAt:        a.StartsAt,
		DurationMins:    a.DurationMins,
		Type:            a.Type,
		Diagnosis:       a.Diagnosis,
		TreatmentPlan:   a.TreatmentPlan,
		DoctorNotes:     a.DoctorNotes,
		FollowUpDate:    a.FollowUpDate,
		FollowUpNotes:   a.FollowUpNotes,
		ConsultationFee: a.ConsultationFee,
		PaymentStatus:   a.PaymentStatus,
		CreatedAt:       now,
	}
}

func (s *Service) emit(ctx context.Context, t notify.EventType, a *Appointment, scheduledFor *time.Time) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Emit(ctx, notify.Event{
		Type:          t,
		RecipientID:   a.PatientID,
		AppointmentID: a.ID,
		ScheduledFor:  scheduledFor,
		Payload: map[string]any{
			"clinic_id": a.ClinicID.String(),
			"starts_at": a.StartsAt,
			"status":    a.Status,
		},
		OccurredAt: s.clock.Now(),
	})
}

// audit writes one append-only event-log row. Best effort: an audit write
// failure is logged, never propagated into the transition result.
func (s *Service) audit(ctx context.Context, eventType string, appointmentID uuid.UUID, actor Actor, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal audit payload", zap.Error(err), zap.String("event_type", eventType))
		data = nil
	}

	apptID := appointmentID
	ev := AuditEvent{
		EventType:     eventType,
		AppointmentID: &apptID,
		ActorRole:     actor.Role,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}
	if actor.ID != uuid.Nil {
		actorID := actor.ID
		ev.Actor = &actorID
	}

	if err := s.repo.InsertAuditEvent(ctx, ev); err != nil {
		s.log.Error("insert audit event",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()))
	}
}
