package collab

import (
	"fmt"
	"strings"
	"time"
)

// RoomType is the kind of resource a room is attached to.
type RoomType string

// Supported room types.
const (
	RoomTypeGeneral    RoomType = "general"
	RoomTypeCourse     RoomType = "course"
	RoomTypeStudyGroup RoomType = "study_group"
	RoomTypeWhiteboard RoomType = "whiteboard"
	RoomTypeAssessment RoomType = "assessment"
)

// MaxResourceIDLength bounds the resource part of a room key.
const MaxResourceIDLength = 128

// RoomTypes lists every valid room type.
func RoomTypes() []RoomType {
	return []RoomType{
		RoomTypeGeneral,
		RoomTypeCourse,
		RoomTypeStudyGroup,
		RoomTypeWhiteboard,
		RoomTypeAssessment,
	}
}

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeGeneral, RoomTypeCourse, RoomTypeStudyGroup, RoomTypeWhiteboard, RoomTypeAssessment:
		return true
	}
	return false
}

// RoomKey identifies a room by type and resource id. It is comparable and
// safe to use as a map key; two keys are equal only if both parts match.
type RoomKey struct {
	Type       RoomType `json:"roomType"`
	ResourceID string   `json:"resourceId"`
}

// NewRoomKey validates both parts and returns the key.
func NewRoomKey(roomType RoomType, resourceID string) (RoomKey, error) {
	key := RoomKey{Type: roomType, ResourceID: resourceID}
	if err := key.Validate(); err != nil {
		return RoomKey{}, err
	}
	return key, nil
}

// ParseRoomKey parses the wire form "<type>:<resourceId>". The split happens on
// the first colon only, so resource ids may themselves contain colons.
func ParseRoomKey(s string) (RoomKey, error) {
	roomType, resourceID, ok := strings.Cut(s, ":")
	if !ok {
		return RoomKey{}, fmt.Errorf("%w: room id %q has no type prefix", ErrInvalidRoomKey, s)
	}
	return NewRoomKey(RoomType(roomType), resourceID)
}

// Validate checks the key parts.
func (k RoomKey) Validate() error {
	if !k.Type.Valid() {
		return fmt.Errorf("%w: unknown room type %q", ErrInvalidRoomKey, k.Type)
	}
	if k.ResourceID == "" {
		return fmt.Errorf("%w: resource id is required", ErrInvalidRoomKey)
	}
	if len(k.ResourceID) > MaxResourceIDLength {
		return fmt.Errorf("%w: resource id exceeds %d characters", ErrInvalidRoomKey, MaxResourceIDLength)
	}
	return nil
}

// IsZero reports whether the key is unset.
func (k RoomKey) IsZero() bool {
	return k.Type == "" && k.ResourceID == ""
}

// String returns the wire form of the key.
func (k RoomKey) String() string {
	return string(k.Type) + ":" + k.ResourceID
}

// RoomInfo is a read-only summary of an active room.
type RoomInfo struct {
	Key          RoomKey   `json:"key"`
	RoomID       string    `json:"roomId"`
	Members      int       `json:"members"`
	LastActivity time.Time `json:"lastActivity"`
}
