package acl_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/stretchr/testify/require"
)

func TestRole_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role     acl.Role
		expected string
	}{
		{acl.Viewer, "viewer"},
		{acl.Editor, "editor"},
		{acl.Admin, "admin"},
		{acl.Role(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.role.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.role.String())
		}
	}
}

func TestRole_Permissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role        acl.Role
		canJoin     bool
		canEdit     bool
		canModerate bool
	}{
		{acl.Viewer, true, false, false},
		{acl.Editor, true, true, false},
		{acl.Admin, true, true, true},
		{acl.Role(99), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			t.Parallel()

			if tt.role.CanJoin() != tt.canJoin {
				t.Errorf("CanJoin: expected %v, got %v", tt.canJoin, tt.role.CanJoin())
			}

			if tt.role.CanEdit() != tt.canEdit {
				t.Errorf("CanEdit: expected %v, got %v", tt.canEdit, tt.role.CanEdit())
			}

			if tt.role.CanModerate() != tt.canModerate {
				t.Errorf("CanModerate: expected %v, got %v", tt.canModerate, tt.role.CanModerate())
			}
		})
	}
}

func TestRole_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(acl.Permission{RoomID: "r1", UserID: "u1", Role: acl.Editor})
	require.NoError(t, err)
	require.JSONEq(t, `{"room_id":"r1","user_id":"u1","role":"editor"}`, string(data))

	var p acl.Permission
	require.NoError(t, json.Unmarshal([]byte(`{"role":"admin"}`), &p))

	if p.Role != acl.Admin {
		t.Errorf("expected Admin, got %v", p.Role)
	}
}

func TestRole_JSON_Unknown(t *testing.T) {
	t.Parallel()

	var p acl.Permission

	err := json.Unmarshal([]byte(`{"role":"owner"}`), &p)
	if !errors.Is(err, acl.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}

	_, err = json.Marshal(acl.Permission{Role: acl.Role(7)})
	if !errors.Is(err, acl.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, role := range []acl.Role{acl.Viewer, acl.Editor, acl.Admin} {
		parsed, err := acl.ParseRole(role.String())
		require.NoError(t, err)

		if parsed != role {
			t.Errorf("expected %v, got %v", role, parsed)
		}
	}

	_, err := acl.ParseRole("")
	require.ErrorIs(t, err, acl.ErrUnknownRole)
}
