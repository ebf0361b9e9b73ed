// Package auth implements bearer-token authentication and verb-level
// permission checking for the cmd/pulleyd HTTP front end (§6.4's verb
// surface is otherwise unauthenticated in spec.md, a gap this ambient
// concern fills the way any production front end would).
//
// Grounded on the teacher's own auth package: its Permission bitmask,
// PermissionNames table and Allowed/ErrNotAuthorized shape are kept nearly
// verbatim, with the MySQL-specific mysql.AuthServer surface and
// *sql.Context parameter replaced by a plain bearer token (see native.go).
package auth

import (
	"strings"

	goerrors "gopkg.in/src-d/go-errors.v1"
)

// Permission holds permissions required by a verb, or granted to a token.
type Permission int

const (
	// ReadPerm covers dump_state.
	ReadPerm Permission = 1 << iota
	// WritePerm covers script, add_entry, remove_entry, resync, stop.
	WritePerm
)

var (
	// AllPermissions holds every defined permission.
	AllPermissions = ReadPerm | WritePerm
	// DefaultPermissions are granted to a token if its user file entry
	// does not list any.
	DefaultPermissions = ReadPerm

	// PermissionNames translates between human and machine representations.
	PermissionNames = map[string]Permission{
		"read":  ReadPerm,
		"write": WritePerm,
	}

	// ErrNotAuthorized is returned when a token lacks a required permission.
	ErrNotAuthorized = goerrors.NewKind("not authorized")
	// ErrNoPermission names the missing permission.
	ErrNoPermission = goerrors.NewKind("token does not have permission: %s")
)

// String renders the permissions set to on, comma-separated.
func (p Permission) String() string {
	var names []string
	for name, bit := range PermissionNames {
		if p&bit != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// Authenticator checks a bearer token's permissions for one verb call.
type Authenticator interface {
	// Allowed returns nil if token carries permission, otherwise
	// ErrNotAuthorized wrapping ErrNoPermission.
	Allowed(token string, permission Permission) error
}

// VerbPermission maps each §6.4 verb to the permission it requires.
func VerbPermission(verb string) Permission {
	switch verb {
	case "dump_state":
		return ReadPerm
	default: // script, add_entry, remove_entry, resync, stop
		return WritePerm
	}
}
