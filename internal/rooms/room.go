// Package rooms manages collaboration rooms, their participants and the
// short-lived tokens used to authenticate websocket connections.
package rooms

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomInactive   = errors.New("room is not active")
	ErrRoomFull       = errors.New("room is full")
	ErrNotParticipant = errors.New("user is not a participant")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrRoomOwner      = errors.New("the room creator cannot be removed")
)

// Defaults applied to new rooms.
const (
	DefaultMaxParticipants = 10
	DefaultRoomType        = "document_editing"
)

// Settings are chosen when a room is created.
type Settings struct {
	Name                  string `json:"name,omitempty"`
	MaxParticipants       int    `json:"max_participants,omitempty"`
	CursorTrackingEnabled bool   `json:"cursor_tracking_enabled"`
	VoiceEnabled          bool   `json:"voice_enabled"`
	VideoEnabled          bool   `json:"video_enabled"`
	RoomType              string `json:"room_type,omitempty"`
}

// Room is a live editing session around one document.
type Room struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Settings
	Active    bool      `json:"is_active"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Settings) withDefaults(documentID string) Settings {
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = DefaultMaxParticipants
	}

	if s.RoomType == "" {
		s.RoomType = DefaultRoomType
	}

	if s.Name == "" {
		s.Name = "Document " + documentID
	}

	return s
}
