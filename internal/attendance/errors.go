package attendance

import "errors"

// Attendance domain errors
var (
	ErrEmptyIdentity         = errors.New("identity required")
	ErrUnknownIdentity       = errors.New("unknown identity cannot be recorded")
	ErrCheckOutBeforeCheckIn = errors.New("check-out must be after check-in")
	ErrRecordNotFound        = errors.New("attendance record not found")
)
