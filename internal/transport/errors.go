package transport

import (
	"errors"

	"classhub/internal/room"
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry errors
var (
	ErrNilConnection   = errors.New("connection cannot be nil")
	ErrRegistryClosed  = errors.New("transport registry is closed")
	ErrUnknownIdentity = errors.New("identity is not registered")

	// ErrNotMember is the namespace contract's sentinel; the registry
	// returns the shared value so channel callers can match it.
	ErrNotMember = room.ErrNotMember
)
