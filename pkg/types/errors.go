package types

import "errors"

var (
	ErrInvalidSessionName     = errors.New("session name must be 1-200 characters")
	ErrInvalidRoomKey         = errors.New("room key must be 1-64 characters, alphanumeric + underscore/hyphen, or a session identifier")
	ErrInvalidTimeWindow      = errors.New("time window begin must be before end")
	ErrEmptyParticipantTypes  = errors.New("at least one participant type is required")
	ErrUnknownParticipantType = errors.New("participant type must be one of STUDENT, TEACHER, ADMIN, OBSERVER")
	ErrInvalidStatus          = errors.New("status must be 'scheduled' or 'deleted'")
)
