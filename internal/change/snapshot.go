package change

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// Snapshot is the full content of a tree in replayable form: the root's own
// fields plus one NodeAdded per descendant in pre-order.
type Snapshot struct {
	RootID   uuid.UUID
	RootName *string
	RootData tree.Data
	Changes  []NodeAdded
	Hash     uint64
}

// Capture builds a Snapshot of the tree rooted at root.
func Capture(root *tree.Node) Snapshot {
	s := Snapshot{
		RootID:   root.ID(),
		RootData: tree.CloneData(root.Data()),
		Hash:     root.Hash(),
	}
	if name, ok := root.Name(); ok {
		s.RootName = &name
	}

	var walk func(parent *tree.Node)
	walk = func(parent *tree.Node) {
		for _, c := range parent.Children() {
			added := NodeAdded{
				Data:   tree.CloneData(c.Data()),
				ID:     c.ID(),
				Parent: parent.ID(),
			}
			if name, ok := c.Name(); ok {
				added.Name = &name
			}
			s.Changes = append(s.Changes, added)
			walk(c)
		}
	}
	walk(root)
	return s
}

// Rebuild reconstructs a tree from s and verifies it hashes to s.Hash.
// Rebuilt nodes all carry perm; replicas do not learn server permissions.
func Rebuild(s Snapshot, perm permissions.Permission) (*tree.Node, error) {
	root := tree.New(tree.Config{
		ID:         s.RootID,
		Name:       s.RootName,
		Data:       s.RootData,
		Permission: perm,
	})
	for i, c := range s.Changes {
		if _, err := Apply(root, c); err != nil {
			return nil, fmt.Errorf("replay change %d: %w", i, err)
		}
	}
	if got := root.Hash(); got != s.Hash {
		return nil, fmt.Errorf("%w: snapshot hash %016x, rebuilt %016x", ErrInvalid, s.Hash, got)
	}
	return root, nil
}
