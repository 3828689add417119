package directory

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreClosed     = errors.New("session directory is closed")
	ErrInvalidLimit    = errors.New("range query limit must be positive")
)
