package types

import (
	"time"

	"classhub/pkg/identifier"
)

// ParticipantType classifies who a session is scheduled for.
type ParticipantType string

const (
	ParticipantStudent  ParticipantType = "STUDENT"
	ParticipantTeacher  ParticipantType = "TEACHER"
	ParticipantAdmin    ParticipantType = "ADMIN"
	ParticipantObserver ParticipantType = "OBSERVER"
)

// Session lifecycle statuses. Deletion is a status flag: records are
// never physically removed or renumbered.
const (
	StatusScheduled = "scheduled"
	StatusDeleted   = "deleted"
)

// Room event names pushed over the transport.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventPresence          = "presence"
	EventSessionEnded      = "session_ended"
	EventRecordingReady    = "recording_ready"
)

// TimeWindow is the scheduled begin/end of a session. Begin is always
// strictly before End.
type TimeWindow struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// SessionRecord is one entry in the session directory. The ID is
// immutable once created and totally ordered by creation; Metadata is
// the only freely mutable part.
type SessionRecord struct {
	ID               identifier.ID          `json:"id"`
	RoomKey          string                 `json:"room_key"`
	Name             string                 `json:"name"`
	TimeWindow       TimeWindow             `json:"time_window"`
	ParticipantTypes []ParticipantType      `json:"participant_types"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Status           string                 `json:"status"`
}

// Event is the envelope every room delivery is wrapped in.
type Event struct {
	Name      string      `json:"event"`
	RoomKey   string      `json:"room_key"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
