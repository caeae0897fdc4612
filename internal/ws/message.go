package ws

import (
	"time"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/rooms"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	TypeAuthenticate MessageType = "authenticate" // Client presents a room token
	TypeJoinRoom     MessageType = "join_room"    // Client enters the room

	// Messages relayed in both directions.
	TypeTextChange     MessageType = "text_change"     // One edit operation
	TypeCursorPosition MessageType = "cursor_position" // Caret and selection
	TypeUserPresence   MessageType = "user_presence"   // Active or idle

	// Server to Client messages.
	TypeConnectionEstablished MessageType = "connection_established"
	TypeAuthenticated         MessageType = "authenticated"
	TypeRoomJoined            MessageType = "room_joined"
	TypeUserJoined            MessageType = "user_joined"
	TypeUserLeft              MessageType = "user_left"
	TypeError                 MessageType = "error"
)

// Error codes.
const (
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeNotJoined            = "not_joined"
	ErrorCodeRoomFull             = "room_full"
	ErrorCodeInternalError        = "internal_error"
)

// Message is a flat JSON object with a type discriminator. Only the fields
// of the given type are set; receivers ignore fields they do not know.
type Message struct {
	Type MessageType `json:"type"`

	// authenticate
	Token string `json:"token,omitempty"`

	// join_room, room_joined
	RoomID string    `json:"room_id,omitempty"`
	Role   *acl.Role `json:"role,omitempty"`

	// connection_established
	ConnectionID string `json:"connection_id,omitempty"`

	// Sender or subject of the message, stamped by the server.
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// text_change
	Operation content.OpType `json:"operation,omitempty"`
	Position  int            `json:"position,omitempty"`
	Content   string         `json:"content,omitempty"`
	Length    int            `json:"length,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"` // Unix milliseconds

	// cursor_position
	Cursor    *presence.Cursor    `json:"cursor,omitempty"`
	Selection *presence.Selection `json:"selection,omitempty"`

	// user_presence
	Active *bool `json:"active,omitempty"`

	// room_joined
	Participants []presence.Participant `json:"participants,omitempty"`
	RoomInfo     *rooms.Room            `json:"room_info,omitempty"`

	// error
	Code   string `json:"code,omitempty"`
	Detail string `json:"message,omitempty"`
}

// TextChange builds a text_change message for op.
func TextChange(op content.Operation, at time.Time) Message {
	return Message{
		Type:      TypeTextChange,
		Operation: op.Type,
		Position:  op.Position,
		Content:   op.Content,
		Length:    op.Length,
		Timestamp: at.UnixMilli(),
	}
}

// Op returns the edit operation carried by a text_change message.
func (m Message) Op() content.Operation {
	return content.Operation{
		Type:     m.Operation,
		Position: m.Position,
		Content:  m.Content,
		Length:   m.Length,
	}
}

// ErrorMessage builds an error message.
func ErrorMessage(code, detail string) Message {
	return Message{Type: TypeError, Code: code, Detail: detail}
}
