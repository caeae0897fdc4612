package acl

import (
	"sort"
	"sync"
)

type permissionKey struct {
	roomID string
	userID string
}

// MemoryStore keeps room permissions in memory.
type MemoryStore struct {
	mu          sync.RWMutex
	permissions map[permissionKey]Role
}

// NewMemoryStore creates a new in-memory permission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		permissions: make(map[permissionKey]Role),
	}
}

// Grant gives a user a specific role in a room.
func (m *MemoryStore) Grant(roomID, userID string, role Role) error {
	if !role.CanJoin() {
		return ErrUnknownRole
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.permissions[permissionKey{roomID: roomID, userID: userID}] = role

	return nil
}

// Revoke removes a user's permission in a room.
func (m *MemoryStore) Revoke(roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := permissionKey{roomID: roomID, userID: userID}

	if _, exists := m.permissions[key]; !exists {
		return ErrPermissionNotFound
	}

	delete(m.permissions, key)

	return nil
}

// GetRole returns the user's role in a room.
func (m *MemoryStore) GetRole(roomID, userID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, exists := m.permissions[permissionKey{roomID: roomID, userID: userID}]
	if !exists {
		return 0, ErrPermissionNotFound
	}

	return role, nil
}

// ListPermissions returns the permissions of a room ordered by user id.
func (m *MemoryStore) ListPermissions(roomID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Permission

	for key, role := range m.permissions {
		if key.roomID == roomID {
			result = append(result, Permission{RoomID: key.roomID, UserID: key.userID, Role: role})
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })

	return result, nil
}

var _ Store = (*MemoryStore)(nil)
