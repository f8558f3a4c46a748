package appointment

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotTrashed          = errors.New("appointment is not in the trash")
	ErrInvalidStatus       = errors.New("invalid appointment status")
	ErrAlreadyCancelled    = errors.New("appointment is already cancelled")
	ErrInvalidDate         = errors.New("date must use the YYYY-MM-DD format")
	ErrInvalidTime         = errors.New("time must use the HH:MM or HH:MM:SS format")
)
