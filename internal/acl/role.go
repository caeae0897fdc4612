package acl

import "fmt"

// Role represents a participant's access level in a collaboration room.
type Role int

const (
	// Viewer can follow the session but not change the document.
	Viewer Role = iota
	// Editor can change the document.
	Editor
	// Admin can edit and manage the other participants.
	Admin
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Admin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts the wire form of a role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return Viewer, nil
	case "editor":
		return Editor, nil
	case "admin":
		return Admin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// MarshalText encodes the role as its name, so JSON carries "editor"
// rather than a number.
func (r Role) MarshalText() ([]byte, error) {
	if r < Viewer || r > Admin {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = role

	return nil
}

// CanJoin returns true if the role may join a room.
func (r Role) CanJoin() bool {
	return r >= Viewer && r <= Admin
}

// CanEdit returns true if the role may send document changes.
func (r Role) CanEdit() bool {
	return r == Editor || r == Admin
}

// CanModerate returns true if the role may manage other participants.
func (r Role) CanModerate() bool {
	return r == Admin
}

// Permission represents a user's role in a specific room.
type Permission struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
