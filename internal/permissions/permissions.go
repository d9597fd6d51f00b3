// Package permissions implements the access levels attached to tree nodes
// and the rule deciding whether a session credential may touch a node.
package permissions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrPermissionDenied is returned when a credential does not satisfy the
// permission declared on the node an edit targets.
var ErrPermissionDenied = errors.New("permission denied")

// Level is the coarse access tier of a Permission.
type Level int

const (
	// LevelPublic can be accessed by every session.
	LevelPublic Level = iota
	// LevelUser requires an authenticated session, optionally in a group.
	LevelUser
	// LevelAdmin requires an administrator session.
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelPublic:
		return "public"
	case LevelUser:
		return "user"
	case LevelAdmin:
		return "admin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses "admin", "user" or "public" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "":
		return LevelPublic, nil
	case "user":
		return LevelUser, nil
	case "admin":
		return LevelAdmin, nil
	default:
		return LevelPublic, fmt.Errorf("unknown permission level %q", s)
	}
}

// Permission is the access requirement of a node or the credential of a
// session. For LevelUser, HasGroups distinguishes "no group set" from an
// explicitly empty group set; the two compare differently in CanAccess.
type Permission struct {
	Level     Level    `json:"level"`
	Groups    []string `json:"groups,omitempty"`
	HasGroups bool     `json:"has_groups,omitempty"`
}

// Admin returns the administrator permission.
func Admin() Permission { return Permission{Level: LevelAdmin} }

// Public returns the permission everyone satisfies.
func Public() Permission { return Permission{Level: LevelPublic} }

// User returns a user permission without a group set.
func User() Permission { return Permission{Level: LevelUser} }

// UserInGroups returns a user permission restricted to the given groups.
// Calling it with no groups yields an explicitly empty group set.
func UserInGroups(groups ...string) Permission {
	p := Permission{Level: LevelUser, HasGroups: true}
	if len(groups) > 0 {
		p.Groups = slices.Clone(groups)
	}
	return p
}

// New builds a Permission from configuration-style values. Groups are only
// meaningful for LevelUser; a nil slice means "no group set".
func New(level Level, groups []string) Permission {
	if level != LevelUser {
		return Permission{Level: level}
	}
	if groups == nil {
		return User()
	}
	return UserInGroups(groups...)
}

func (p Permission) String() string {
	if p.Level != LevelUser || !p.HasGroups {
		return p.Level.String()
	}
	return fmt.Sprintf("user[%s]", strings.Join(p.Groups, ","))
}

// CanAccess reports whether a session holding actual may access a node
// declaring required.
func CanAccess(required, actual Permission) bool {
	if actual.Level == LevelAdmin {
		return true
	}
	switch required.Level {
	case LevelAdmin:
		return false
	case LevelPublic:
		return true
	}

	// required is a user permission from here on.
	if actual.Level != LevelUser {
		return false
	}
	if !required.HasGroups {
		return true
	}
	if len(required.Groups) == 0 {
		return len(actual.Groups) == 0
	}
	for _, g := range required.Groups {
		if slices.Contains(actual.Groups, g) {
			return true
		}
	}
	return false
}

// Check is CanAccess returning ErrPermissionDenied on failure.
func Check(required, actual Permission) error {
	if CanAccess(required, actual) {
		return nil
	}
	return fmt.Errorf("%w: node requires %s, session has %s", ErrPermissionDenied, required, actual)
}
