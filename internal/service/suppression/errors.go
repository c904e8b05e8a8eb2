package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound      = errors.New("suppression record not found")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)
