package drip

import "errors"

// Sentinel errors for the drip service layer.
var (
	ErrNotFound            = errors.New("drip: not found")
	ErrDuplicateStep       = errors.New("drip: step number already used in campaign")
	ErrDuplicateEnrollment = errors.New("drip: contact already enrolled in campaign")
	ErrInvalidInput        = errors.New("drip: invalid input")
)
