package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"classhub/pkg/identifier"
)

func validRecord() *SessionRecord {
	begin := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &SessionRecord{
		RoomKey:          "course-101",
		Name:             "Algebra review",
		TimeWindow:       TimeWindow{Begin: begin, End: begin.Add(time.Hour)},
		ParticipantTypes: []ParticipantType{ParticipantStudent, ParticipantTeacher},
		Status:           StatusScheduled,
	}
}

func TestSessionRecordValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
}

func TestSessionRecordValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SessionRecord)
		wantErr error
	}{
		{"empty name", func(r *SessionRecord) { r.Name = "" }, ErrInvalidSessionName},
		{"long name", func(r *SessionRecord) { r.Name = strings.Repeat("x", 201) }, ErrInvalidSessionName},
		{"bad room key", func(r *SessionRecord) { r.RoomKey = "has spaces" }, ErrInvalidRoomKey},
		{"inverted window", func(r *SessionRecord) {
			r.TimeWindow.Begin, r.TimeWindow.End = r.TimeWindow.End, r.TimeWindow.Begin
		}, ErrInvalidTimeWindow},
		{"equal window", func(r *SessionRecord) { r.TimeWindow.End = r.TimeWindow.Begin }, ErrInvalidTimeWindow},
		{"no participants", func(r *SessionRecord) { r.ParticipantTypes = nil }, ErrEmptyParticipantTypes},
		{"unknown participant", func(r *SessionRecord) {
			r.ParticipantTypes = []ParticipantType{"PARENT"}
		}, ErrUnknownParticipantType},
		{"unknown status", func(r *SessionRecord) { r.Status = "archived" }, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			if err := r.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseParticipantType(t *testing.T) {
	for in, want := range map[string]ParticipantType{
		"STUDENT":  ParticipantStudent,
		"teacher":  ParticipantTeacher,
		" Admin ":  ParticipantAdmin,
		"observer": ParticipantObserver,
	} {
		got, err := ParseParticipantType(in)
		if err != nil || got != want {
			t.Errorf("ParseParticipantType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	for _, in := range []string{"", "PARENT", "students", "TEACHER,ADMIN"} {
		if _, err := ParseParticipantType(in); !errors.Is(err, ErrUnknownParticipantType) {
			t.Errorf("ParseParticipantType(%q) should fail with ErrUnknownParticipantType, got %v", in, err)
		}
	}
}

func TestIsValidRoomKey(t *testing.T) {
	g := identifier.NewGenerator()
	if !IsValidRoomKey(g.Next().Hex()) {
		t.Error("session identifier should be a valid room key")
	}
	if !IsValidRoomKey("unit_3-recap") {
		t.Error("derived key should be valid")
	}
	if IsValidRoomKey("") || IsValidRoomKey(strings.Repeat("k", 65)) || IsValidRoomKey("bad key") {
		t.Error("malformed keys should be invalid")
	}
}

func TestHasAnyParticipantType(t *testing.T) {
	r := validRecord()
	if !r.HasAnyParticipantType([]ParticipantType{ParticipantTeacher}) {
		t.Error("expected TEACHER overlap")
	}
	if r.HasAnyParticipantType([]ParticipantType{ParticipantObserver}) {
		t.Error("did not expect OBSERVER overlap")
	}
	if !r.HasAnyParticipantType(nil) {
		t.Error("empty filter matches everything")
	}
}

func TestSessionRecordJSONIncludesHexID(t *testing.T) {
	g := identifier.NewGenerator()
	r := validRecord()
	r.ID = g.Next()

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":"`+r.ID.Hex()+`"`) {
		t.Fatalf("expected hex id in JSON, got %s", data)
	}
}
