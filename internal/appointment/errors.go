package appointment

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrClinicNotFound      = errors.New("clinic not found")

	// ErrSlotConflict means the requested interval overlaps a held
	// reservation. The conflicting appointment is never disclosed.
	ErrSlotConflict = errors.New("slot already taken, choose another time")

	// ErrReservationContended means another booking for the same scheduling
	// key holds the reservation lock right now. Safe to retry.
	ErrReservationContended = errors.New("slot is currently being booked, please retry")

	ErrInvalidTransition = errors.New("invalid appointment status transition")

	ErrValidation = errors.New("validation failed")

	// ErrDependency wraps collaborator failures (payment gateway and the
	// like) where the appointment state was intentionally left unchanged.
	ErrDependency = errors.New("dependency unavailable, retry later")

	ErrParentNotCompleted = errors.New("parent appointment must be completed")
)
