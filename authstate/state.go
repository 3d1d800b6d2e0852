// Package authstate derives the application's authentication state from session events.
package authstate

import (
	"slices"
	"time"

	"github.com/jrsteele09/choirapp/internal/utils"
	"github.com/jrsteele09/choirapp/session"
)

// AdminRole is the realm role that grants administrative features.
const AdminRole = "ADMIN"

type Status int

const (
	StatusInitializing Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthState is an immutable snapshot. IsAuthenticated holds exactly when User is set and
// unexpired; Roles is empty and IsAdmin false otherwise.
type AuthState struct {
	Status          Status
	IsLoading       bool
	IsAuthenticated bool
	Roles           []string
	IsAdmin         bool
	User            *session.Session
}

func (a AuthState) HasRole(role string) bool {
	_, found := slices.BinarySearch(a.Roles, role)
	return found
}

func (a AuthState) clone() AuthState {
	a.Roles = slices.Clone(a.Roles)
	a.User = a.User.Clone()
	return a
}

// DeriveRoles reads realm_access.roles from profile claims, sorted and without
// duplicates. Missing or malformed claims yield no roles.
func DeriveRoles(profile map[string]any) []string {
	value, ok := utils.NestedValue(profile, "realm_access", "roles")
	if !ok {
		return []string{}
	}
	var roles []string
	switch v := value.(type) {
	case []any:
		roles = utils.ToStringSlice(v)
	case []string:
		roles = slices.Clone(v)
	default:
		return []string{}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}

func initialState() AuthState {
	return AuthState{Status: StatusInitializing, IsLoading: true, Roles: []string{}}
}

// computeState builds the full snapshot for s, which may be nil.
func computeState(s *session.Session, now time.Time, initialized, loading bool) AuthState {
	state := AuthState{
		Status:    StatusUnauthenticated,
		IsLoading: loading || !initialized,
		Roles:     []string{},
	}
	if s.Valid(now) {
		state.Status = StatusAuthenticated
		state.IsAuthenticated = true
		state.User = s.Clone()
		state.Roles = DeriveRoles(s.Profile)
		state.IsAdmin = state.HasRole(AdminRole)
	}
	if !initialized {
		state.Status = StatusInitializing
	}
	return state
}
