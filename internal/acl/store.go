package acl

import "errors"

// Common errors.
var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrUnknownRole        = errors.New("unknown role")
)

// Store defines the interface for persisting room permissions.
type Store interface {
	// Grant gives a user a specific role in a room.
	// If the user already has a permission, it is replaced.
	Grant(roomID, userID string, role Role) error

	// Revoke removes a user's permission in a room.
	// Returns ErrPermissionNotFound if no permission exists.
	Revoke(roomID, userID string) error

	// GetRole returns the user's role in a room.
	// Returns ErrPermissionNotFound if no permission exists.
	GetRole(roomID, userID string) (Role, error)

	// ListPermissions returns all permissions of a room.
	ListPermissions(roomID string) ([]Permission, error)
}
