package permissions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAccess(t *testing.T) {
	tests := []struct {
		name     string
		required Permission
		actual   Permission
		want     bool
	}{
		{"public node, public session", Public(), Public(), true},
		{"user node, public session", User(), Public(), false},
		{"user node, user session with empty groups", User(), UserInGroups(), true},
		{"group node, user session with empty groups", UserInGroups("test"), UserInGroups(), false},
		{"group node, overlapping groups", UserInGroups("test"), UserInGroups("test", "test2"), true},
		{"group node, disjoint groups", UserInGroups("test3"), UserInGroups("test", "test2"), false},

		{"admin session always passes admin node", Admin(), Admin(), true},
		{"admin session passes group node", UserInGroups("ops"), Admin(), true},
		{"admin node rejects user", Admin(), UserInGroups("ops"), false},
		{"admin node rejects public", Admin(), Public(), false},
		{"public node accepts user", Public(), User(), true},
		{"user node accepts grouped user", User(), UserInGroups("ops"), true},
		{"group node rejects user without group set", UserInGroups("ops"), User(), false},
		{"empty group node accepts user without group set", UserInGroups(), User(), true},
		{"empty group node rejects grouped user", UserInGroups(), UserInGroups("ops"), false},
		{"group node rejects public", UserInGroups("ops"), Public(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.required, tt.actual))
		})
	}
}

func TestCheck(t *testing.T) {
	require.NoError(t, Check(Public(), Public()))

	err := Check(Admin(), UserInGroups("ops"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.Contains(t, err.Error(), "node requires admin")
	assert.Contains(t, err.Error(), "user[ops]")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"admin":   LevelAdmin,
		"USER":    LevelUser,
		" public": LevelPublic,
		"":        LevelPublic,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("root")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	assert.Equal(t, User(), New(LevelUser, nil))
	assert.Equal(t, UserInGroups(), New(LevelUser, []string{}))
	assert.Equal(t, Admin(), New(LevelAdmin, []string{"ignored"}))

	p := New(LevelUser, []string{"a"})
	assert.True(t, p.HasGroups)
	assert.Equal(t, []string{"a"}, p.Groups)
}
