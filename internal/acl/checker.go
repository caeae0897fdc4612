package acl

import "errors"

// Action represents something a participant wants to do in a room.
type Action int

const (
	ActionJoin Action = iota
	ActionEdit
	ActionModerate
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionJoin:
		return "join"
	case ActionEdit:
		return "edit"
	case ActionModerate:
		return "moderate"
	default:
		return "unknown"
	}
}

// Checker validates participant permissions for room actions.
type Checker struct {
	store Store
}

// NewChecker creates a new permission checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// CanPerform checks if a user can perform an action in a room.
func (c *Checker) CanPerform(roomID, userID string, action Action) (bool, error) {
	role, err := c.store.GetRole(roomID, userID)
	if err != nil {
		if errors.Is(err, ErrPermissionNotFound) {
			return false, nil
		}

		return false, err
	}

	switch action {
	case ActionJoin:
		return role.CanJoin(), nil
	case ActionEdit:
		return role.CanEdit(), nil
	case ActionModerate:
		return role.CanModerate(), nil
	default:
		return false, nil
	}
}

// RequirePermission checks permission and returns an error if denied.
func (c *Checker) RequirePermission(roomID, userID string, action Action) error {
	allowed, err := c.CanPerform(roomID, userID, action)
	if err != nil {
		return err
	}

	if !allowed {
		return ErrAccessDenied
	}

	return nil
}
