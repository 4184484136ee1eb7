package appointment

import "time"

// Legal lifecycle edges. Cancellation is additionally allowed from every
// non-terminal state, which the table spells out rather than special-casing.
//
//	pending_payment → payment_confirmed → scheduled → confirmed →
//	checked_in → in_progress → completed
var transitions = map[Status][]Status{
	StatusPendingPayment:   {StatusPaymentConfirmed, StatusCancelled},
	StatusPaymentConfirmed: {StatusScheduled, StatusCancelled, StatusRefunded},
	StatusScheduled:        {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:        {StatusCheckedIn, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusCheckedIn:        {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusCompleted, StatusCancelled},
	StatusCompleted:        {},
	StatusCancelled:        {},
	StatusNoShow:           {},
	StatusRescheduled:      {},
	StatusRefunded:         {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports statuses with no outgoing edges. A rescheduled row is
// terminal too: the replacement appointment carries the booking from then on.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge from the appointment's current
// status to target is legal.
func (a *Appointment) CanTransitionTo(target Status) bool {
	for _, s := range transitions[a.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// applyTransition mutates status and stamps the timestamp that belongs to
// the target state. Callers have already checked legality.
func (a *Appointment) applyTransition(target Status, now time.Time) {
	a.Status = target
	a.UpdatedAt = now

	switch target {
	case StatusConfirmed:
		a.ConfirmedAt = &now
	case StatusCheckedIn:
		a.CheckedInAt = &now
	case StatusInProgress:
		a.StartedAt = &now
	case StatusCompleted:
		a.CompletedAt = &now
	case StatusCancelled, StatusNoShow, StatusRefunded:
		a.CancelledAt = &now
	case StatusRescheduled:
		a.RescheduledAt = &now
	}
}
