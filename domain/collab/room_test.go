package collab

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RoomKey
		wantErr bool
	}{
		{name: "whiteboard", input: "whiteboard:42", want: RoomKey{Type: RoomTypeWhiteboard, ResourceID: "42"}},
		{name: "study group", input: "study_group:g-7", want: RoomKey{Type: RoomTypeStudyGroup, ResourceID: "g-7"}},
		{name: "colon in resource id", input: "course:math:101", want: RoomKey{Type: RoomTypeCourse, ResourceID: "math:101"}},
		{name: "missing separator", input: "course", wantErr: true},
		{name: "unknown type", input: "lobby:1", wantErr: true},
		{name: "empty resource id", input: "general:", wantErr: true},
		{name: "resource id too long", input: "general:" + strings.Repeat("x", MaxResourceIDLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoomKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRoomKey) {
					t.Errorf("ParseRoomKey(%q) error = %v, want ErrInvalidRoomKey", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoomKey(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRoomKey(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestRoomKey_Equality(t *testing.T) {
	a := RoomKey{Type: RoomTypeCourse, ResourceID: "1"}
	b := RoomKey{Type: RoomTypeWhiteboard, ResourceID: "1"}
	if a == b {
		t.Error("keys with different types must not be equal")
	}

	m := map[RoomKey]int{a: 1}
	if _, ok := m[RoomKey{Type: RoomTypeCourse, ResourceID: "1"}]; !ok {
		t.Error("equal keys must hit the same map entry")
	}
	if !(RoomKey{}).IsZero() {
		t.Error("zero key IsZero() = false")
	}
}

func TestJoinRoomData_Key(t *testing.T) {
	tests := []struct {
		name    string
		data    JoinRoomData
		want    string
		wantErr bool
	}{
		{name: "structured", data: JoinRoomData{RoomType: "whiteboard", ResourceID: "9"}, want: "whiteboard:9"},
		{name: "combined", data: JoinRoomData{RoomID: "course:3"}, want: "course:3"},
		{name: "both consistent", data: JoinRoomData{RoomID: "course:3", RoomType: "course", ResourceID: "3"}, want: "course:3"},
		{name: "both inconsistent", data: JoinRoomData{RoomID: "course:4", RoomType: "course", ResourceID: "3"}, wantErr: true},
		{name: "empty", data: JoinRoomData{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.data.Key()
			if tt.wantErr {
				if err == nil {
					t.Error("Key() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Key() unexpected error: %v", err)
			}
			if key.String() != tt.want {
				t.Errorf("Key() = %q, want %q", key.String(), tt.want)
			}
		})
	}
}

func TestMessageType_Classes(t *testing.T) {
	persistable := []MessageType{TypeChatMessage, TypeWhiteboardDraw, TypeTextChange}
	ephemeral := []MessageType{TypeCursorMove, TypeTypingIndicator}

	for _, mt := range persistable {
		if !mt.Persistable() || mt.Ephemeral() {
			t.Errorf("%s should be persistable only", mt)
		}
	}
	for _, mt := range ephemeral {
		if mt.Persistable() || !mt.Ephemeral() {
			t.Errorf("%s should be ephemeral only", mt)
		}
	}
	if TypeJoinRoom.Routable() {
		t.Error("join_room must not be routable")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrRoomFull, CodeRoomFull},
		{ErrNotInRoom, CodeNotInRoom},
		{errors.Join(ErrUnauthenticated, ErrUnknownConnection), CodeUnauthenticated},
		{ErrUnknownConnection, CodeUnknownConnection},
		{ErrInvalidRoomKey, CodeInvalidMessage},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewEnvelope_NilData(t *testing.T) {
	env, err := NewEnvelope(TypeConnected, "", nil)
	if err != nil {
		t.Fatalf("NewEnvelope() unexpected error: %v", err)
	}
	if string(env.Data) != "{}" {
		t.Errorf("Data = %s, want {}", env.Data)
	}
	if env.Timestamp != nil {
		t.Error("Timestamp should be nil until stamped")
	}
}
