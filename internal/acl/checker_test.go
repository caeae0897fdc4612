package acl_test

import (
	"errors"
	"testing"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/stretchr/testify/require"
)

func TestAction_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action   acl.Action
		expected string
	}{
		{acl.ActionJoin, "join"},
		{acl.ActionEdit, "edit"},
		{acl.ActionModerate, "moderate"},
		{acl.Action(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.action.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.action.String())
		}
	}
}

func TestChecker_CanPerform(t *testing.T) {
	t.Parallel()

	store := acl.NewMemoryStore()
	require.NoError(t, store.Grant("room1", "viewer", acl.Viewer))
	require.NoError(t, store.Grant("room1", "editor", acl.Editor))
	require.NoError(t, store.Grant("room1", "admin", acl.Admin))

	checker := acl.NewChecker(store)

	tests := []struct {
		user     string
		action   acl.Action
		expected bool
	}{
		{"viewer", acl.ActionJoin, true},
		{"viewer", acl.ActionEdit, false},
		{"viewer", acl.ActionModerate, false},
		{"editor", acl.ActionJoin, true},
		{"editor", acl.ActionEdit, true},
		{"editor", acl.ActionModerate, false},
		{"admin", acl.ActionJoin, true},
		{"admin", acl.ActionEdit, true},
		{"admin", acl.ActionModerate, true},
		{"admin", acl.Action(99), false},
		{"stranger", acl.ActionJoin, false},
	}

	for _, tt := range tests {
		allowed, err := checker.CanPerform("room1", tt.user, tt.action)
		require.NoError(t, err)

		if allowed != tt.expected {
			t.Errorf("%s %s: expected %v, got %v", tt.user, tt.action, tt.expected, allowed)
		}
	}
}

func TestChecker_RequirePermission(t *testing.T) {
	t.Parallel()

	store := acl.NewMemoryStore()
	require.NoError(t, store.Grant("room1", "user1", acl.Viewer))

	checker := acl.NewChecker(store)

	require.NoError(t, checker.RequirePermission("room1", "user1", acl.ActionJoin))

	err := checker.RequirePermission("room1", "user1", acl.ActionEdit)
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	err = checker.RequirePermission("room2", "user1", acl.ActionJoin)
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for other room, got %v", err)
	}
}

type errorStore struct {
	err error
}

func (e *errorStore) Grant(_, _ string, _ acl.Role) error {
	return e.err
}

func (e *errorStore) Revoke(_, _ string) error {
	return e.err
}

func (e *errorStore) GetRole(_, _ string) (acl.Role, error) {
	return 0, e.err
}

func (e *errorStore) ListPermissions(_ string) ([]acl.Permission, error) {
	return nil, e.err
}

func TestChecker_StoreError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("store error")
	checker := acl.NewChecker(&errorStore{err: storeErr})

	_, err := checker.CanPerform("room1", "user1", acl.ActionJoin)
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error, got %v", err)
	}

	err = checker.RequirePermission("room1", "user1", acl.ActionEdit)
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error, got %v", err)
	}
}
