package types

import (
	"fmt"
	"regexp"
	"strings"

	"classhub/pkg/identifier"
)

var roomKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ParseParticipantType parses a client-supplied filter value. Matching
// is case-insensitive; unknown values are rejected, never coerced.
func ParseParticipantType(s string) (ParticipantType, error) {
	switch ParticipantType(strings.ToUpper(strings.TrimSpace(s))) {
	case ParticipantStudent:
		return ParticipantStudent, nil
	case ParticipantTeacher:
		return ParticipantTeacher, nil
	case ParticipantAdmin:
		return ParticipantAdmin, nil
	case ParticipantObserver:
		return ParticipantObserver, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownParticipantType, s)
	}
}

// IsValidRoomKey checks a room key: either a session identifier or a
// short derived key (per-unit, per-course).
func IsValidRoomKey(key string) bool {
	if identifier.IsValidHex(key) {
		return true
	}
	if len(key) < 1 || len(key) > 64 {
		return false
	}
	return roomKeyRegex.MatchString(key)
}

// Validate ensures the record meets all creation requirements.
func (s *SessionRecord) Validate() error {
	if len(s.Name) < 1 || len(s.Name) > 200 {
		return ErrInvalidSessionName
	}
	if !IsValidRoomKey(s.RoomKey) {
		return ErrInvalidRoomKey
	}
	if !s.TimeWindow.Begin.Before(s.TimeWindow.End) {
		return ErrInvalidTimeWindow
	}
	if len(s.ParticipantTypes) == 0 {
		return ErrEmptyParticipantTypes
	}
	for _, pt := range s.ParticipantTypes {
		if _, err := ParseParticipantType(string(pt)); err != nil {
			return err
		}
	}
	if s.Status != "" && s.Status != StatusScheduled && s.Status != StatusDeleted {
		return ErrInvalidStatus
	}
	return nil
}

// HasAnyParticipantType reports whether the record is scheduled for at
// least one of the given types.
func (s *SessionRecord) HasAnyParticipantType(filter []ParticipantType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, have := range s.ParticipantTypes {
		for _, want := range filter {
			if have == want {
				return true
			}
		}
	}
	return false
}
