package change

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// uid returns a fixed id for n. The leading byte keeps uid(0) from being
// uuid.Nil, which tree.New would replace with a random id.
func uid(n uint64) uuid.UUID {
	u := uuid.UUID{0xca}
	for i := 0; i < 8; i++ {
		u[15-i] = byte(n >> (8 * i))
	}
	return u
}

// defaultTree is root(1337) with children "Hello" (id 0, folder) and
// "World" (id 42, int32 64).
func defaultTree() *tree.Node {
	hello := tree.New(tree.Config{ID: uid(0), Name: tree.Name("Hello"), Data: tree.Folder{}})
	world := tree.New(tree.Config{ID: uid(42), Name: tree.Name("World"), Data: tree.Int32(64)})
	return tree.New(tree.Config{
		ID:       uid(1337),
		Name:     tree.Name("root"),
		Children: []*tree.Node{hello, world},
	})
}

func TestApplyMatchesDirectMutation(t *testing.T) {
	direct := defaultTree()
	replica := defaultTree()

	direct.Child(0).ChangeName("Hello and Good Morning")
	direct.Child(1).ChangeData(tree.Bool(true))

	_, err := Apply(replica, NodeChangedName{ID: uid(0), Name: "Hello and Good Morning"})
	require.NoError(t, err)
	hash, err := Apply(replica, NodeChangedData{ID: uid(42), Data: tree.Bool(true)})
	require.NoError(t, err)

	assert.Equal(t, direct.Hash(), hash)
	assert.Equal(t, direct.Hash(), replica.Hash())
}

func TestApplyManyAdds(t *testing.T) {
	direct := defaultTree()
	replica := defaultTree()

	for i := uint64(0); i < 100; i++ {
		direct.AddChild(tree.New(tree.Config{ID: uid(1000 + i), Name: tree.Name(fmt.Sprintf("node %d", i))}))
	}
	for i := uint64(0); i < 100; i++ {
		_, err := Apply(replica, NodeAdded{
			Data:   tree.Folder{},
			Name:   tree.Name(fmt.Sprintf("node %d", i)),
			ID:     uid(1000 + i),
			Parent: replica.ID(),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, direct.Hash(), replica.Hash())
}

func TestApplyRemove(t *testing.T) {
	direct := defaultTree()
	replica := defaultTree()

	direct.RemoveChild(uid(0))
	hash, err := Apply(replica, NodeRemoved{ID: uid(0)})
	require.NoError(t, err)
	assert.Equal(t, direct.Hash(), hash)

	require.Len(t, replica.Children(), 1)
	assert.Equal(t, uid(42), replica.Child(0).ID())
}

func TestApplyOrderMatters(t *testing.T) {
	a := defaultTree()
	b := defaultTree()
	first := NodeAdded{Data: tree.Folder{}, ID: uid(1), Parent: uid(1337)}
	second := NodeAdded{Data: tree.Folder{}, ID: uid(2), Parent: uid(1337)}

	for _, c := range []Change{first, second} {
		_, err := Apply(a, c)
		require.NoError(t, err)
	}
	for _, c := range []Change{second, first} {
		_, err := Apply(b, c)
		require.NoError(t, err)
	}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestApplyEndToEndReference(t *testing.T) {
	rootID := uid(1)
	replica := tree.New(tree.Config{ID: rootID})
	hash, err := Apply(replica, NodeAdded{Data: tree.Bool(true), Name: tree.Name("x"), ID: uid(42), Parent: rootID})
	require.NoError(t, err)

	reference := tree.New(tree.Config{ID: rootID})
	reference.AddChild(tree.New(tree.Config{ID: uid(42), Name: tree.Name("x"), Data: tree.Bool(true)}))
	assert.Equal(t, reference.Hash(), hash)
}

func TestApplyFailuresLeaveTreeUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		target error
	}{
		{"add under missing parent", NodeAdded{Data: tree.Folder{}, ID: uid(5), Parent: uid(999)}, tree.ErrNotFound},
		{"add duplicate id", NodeAdded{Data: tree.Folder{}, ID: uid(42), Parent: uid(0)}, ErrDuplicateID},
		{"add without data", NodeAdded{ID: uid(5), Parent: uid(0)}, ErrInvalid},
		{"add without id", NodeAdded{Data: tree.Bool(true), Name: tree.Name("x"), Parent: uid(0)}, ErrInvalid},
		{"remove missing", NodeRemoved{ID: uid(999)}, tree.ErrNotFound},
		{"remove root", NodeRemoved{ID: uid(1337)}, ErrRootRemoval},
		{"rename missing", NodeChangedName{ID: uid(999), Name: "x"}, tree.ErrNotFound},
		{"set data missing", NodeChangedData{ID: uid(999), Data: tree.Bool(true)}, tree.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := defaultTree()
			before := root.Hash()

			_, err := Apply(root, tt.change)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, before, root.Hash())
		})
	}
}

func TestApplyAddWithoutIDIsRejectedEverywhere(t *testing.T) {
	add := NodeAdded{Data: tree.Bool(true), Name: tree.Name("x"), Parent: uid(1337)}
	server, replica := defaultTree(), defaultTree()

	for _, root := range []*tree.Node{server, replica, server} {
		_, err := Apply(root, add)
		assert.ErrorIs(t, err, ErrInvalid)
	}
	assert.Len(t, server.Children(), 2)
	assert.Equal(t, server.Hash(), replica.Hash())
}

func TestApplyInheritsParentPermission(t *testing.T) {
	root := defaultTree()
	admin := tree.New(tree.Config{ID: uid(7), Permission: permissions.Admin()})
	root.AddChild(admin)

	_, err := Apply(root, NodeAdded{Data: tree.String("s"), ID: uid(8), Parent: uid(7)})
	require.NoError(t, err)
	assert.Equal(t, permissions.Admin(), root.Find(uid(8)).Permission())
}

func TestApplyNotifiesObservers(t *testing.T) {
	root := defaultTree()
	var events []string
	root.SubscribeToChildren(&tree.ObserverFuncs{
		OnDataChanged: func(n *tree.Node, prev, next tree.Data) {
			events = append(events, "data "+tree.FormatData(prev))
		},
		OnChildAdded: func(parent, child *tree.Node) {
			events = append(events, "added "+child.ID().String())
		},
	})

	_, err := Apply(root, NodeChangedData{ID: uid(42), Data: tree.Int32(64)})
	require.NoError(t, err)
	_, err = Apply(root, NodeAdded{Data: tree.Folder{}, ID: uid(9), Parent: uid(1337)})
	require.NoError(t, err)

	assert.Equal(t, []string{"data 64", "added " + uid(9).String()}, events)
}

func TestTarget(t *testing.T) {
	root := defaultTree()

	n, err := Target(root, NodeAdded{Data: tree.Folder{}, ID: uid(5), Parent: uid(42)})
	require.NoError(t, err)
	assert.Equal(t, uid(42), n.ID())

	n, err = Target(root, NodeChangedName{ID: uid(0), Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, uid(0), n.ID())

	_, err = Target(root, NodeRemoved{ID: uid(77)})
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestSnapshotRebuild(t *testing.T) {
	root := defaultTree()
	_, err := Apply(root, NodeAdded{Data: tree.NewList(tree.Int32(1)), Name: tree.Name("deep"), ID: uid(5), Parent: uid(0)})
	require.NoError(t, err)

	snap := Capture(root)
	assert.Equal(t, uid(1337), snap.RootID)
	require.Len(t, snap.Changes, 3)
	assert.Equal(t, uid(0), snap.Changes[0].ID)
	assert.Equal(t, uid(5), snap.Changes[1].ID)
	assert.Equal(t, uid(42), snap.Changes[2].ID)

	rebuilt, err := Rebuild(snap, permissions.Public())
	require.NoError(t, err)
	assert.Equal(t, root.Hash(), rebuilt.Hash())

	snap.Hash++
	_, err = Rebuild(snap, permissions.Public())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestChangeJSON(t *testing.T) {
	changes := []Change{
		NodeAdded{Data: tree.Int32(3), Name: tree.Name("n"), ID: uid(5), Parent: uid(1)},
		NodeRemoved{ID: uid(5)},
		NodeChangedName{ID: uid(5), Name: "m"},
		NodeChangedData{ID: uid(5), Data: tree.NewTuple(tree.Bool(true), tree.String("s"))},
	}
	for _, c := range changes {
		raw, err := MarshalChange(c)
		require.NoError(t, err)
		back, err := UnmarshalChange(raw)
		require.NoError(t, err, string(raw))
		assert.Equal(t, Describe(c), Describe(back))
	}

	_, err := UnmarshalChange([]byte(`{"op":"node_added","id":"` + uid(5).String() + `"}`))
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = UnmarshalChange([]byte(`{"op":"explode","id":"` + uid(5).String() + `"}`))
	assert.ErrorIs(t, err, ErrInvalid)
}
