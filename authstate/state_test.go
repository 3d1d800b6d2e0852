package authstate_test

import (
	"testing"

	"github.com/jrsteele09/choirapp/authstate"
	"github.com/stretchr/testify/require"
)

func TestDeriveRoles(t *testing.T) {
	tests := []struct {
		name    string
		profile map[string]any
		roles   []string
	}{
		{
			name:    "singer and admin",
			profile: map[string]any{"realm_access": map[string]any{"roles": []any{"SINGER", "ADMIN"}}},
			roles:   []string{"ADMIN", "SINGER"},
		},
		{
			name:    "no realm_access",
			profile: map[string]any{"email": "bass@example.com"},
			roles:   []string{},
		},
		{
			name:    "nil profile",
			profile: nil,
			roles:   []string{},
		},
		{
			name:    "duplicates and non strings",
			profile: map[string]any{"realm_access": map[string]any{"roles": []any{"TENOR", 7, "TENOR", "ALTO"}}},
			roles:   []string{"ALTO", "TENOR"},
		},
		{
			name:    "string slice",
			profile: map[string]any{"realm_access": map[string]any{"roles": []string{"SINGER"}}},
			roles:   []string{"SINGER"},
		},
		{
			name:    "roles not a list",
			profile: map[string]any{"realm_access": map[string]any{"roles": "ADMIN"}},
			roles:   []string{},
		},
		{
			name:    "realm_access not an object",
			profile: map[string]any{"realm_access": []any{"ADMIN"}},
			roles:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.roles, authstate.DeriveRoles(tt.profile))
		})
	}
}

func TestAuthState_HasRole(t *testing.T) {
	st := authstate.AuthState{Roles: authstate.DeriveRoles(map[string]any{
		"realm_access": map[string]any{"roles": []any{"SINGER", "ADMIN"}},
	})}

	require.True(t, st.HasRole("ADMIN"))
	require.True(t, st.HasRole("SINGER"))
	require.False(t, st.HasRole("admin"))
	require.False(t, authstate.AuthState{}.HasRole("ADMIN"))
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "initializing", authstate.StatusInitializing.String())
	require.Equal(t, "unauthenticated", authstate.StatusUnauthenticated.String())
	require.Equal(t, "authenticated", authstate.StatusAuthenticated.String())
	require.Equal(t, "unknown", authstate.Status(42).String())
}
