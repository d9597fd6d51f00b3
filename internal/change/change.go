// Package change applies wire-level tree edits to a tree and reports the
// resulting content hash.
package change

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/tree"
)

var (
	// ErrDuplicateID is returned when NodeAdded names an id already present.
	ErrDuplicateID = errors.New("node id already exists")

	// ErrRootRemoval is returned when NodeRemoved targets the root.
	ErrRootRemoval = errors.New("root node cannot be removed")

	// ErrInvalid is returned for structurally invalid changes.
	ErrInvalid = errors.New("invalid change")
)

// Op names the kind of a Change.
type Op string

const (
	OpNodeAdded       Op = "node_added"
	OpNodeRemoved     Op = "node_removed"
	OpNodeChangedName Op = "node_changed_name"
	OpNodeChangedData Op = "node_changed_data"
)

// Change is one edit of the tree. Implementations are NodeAdded,
// NodeRemoved, NodeChangedName and NodeChangedData.
type Change interface {
	Op() Op
	// NodeID is the id the change is about: the new node for NodeAdded.
	NodeID() uuid.UUID
}

// NodeAdded creates a node with the given id under Parent.
type NodeAdded struct {
	Data   tree.Data
	Name   *string
	ID     uuid.UUID
	Parent uuid.UUID
}

// NodeRemoved detaches the node with the given id and its subtree.
type NodeRemoved struct {
	ID uuid.UUID
}

// NodeChangedName renames a node.
type NodeChangedName struct {
	ID   uuid.UUID
	Name string
}

// NodeChangedData replaces a node's payload.
type NodeChangedData struct {
	ID   uuid.UUID
	Data tree.Data
}

func (NodeAdded) Op() Op       { return OpNodeAdded }
func (NodeRemoved) Op() Op     { return OpNodeRemoved }
func (NodeChangedName) Op() Op { return OpNodeChangedName }
func (NodeChangedData) Op() Op { return OpNodeChangedData }

func (c NodeAdded) NodeID() uuid.UUID       { return c.ID }
func (c NodeRemoved) NodeID() uuid.UUID     { return c.ID }
func (c NodeChangedName) NodeID() uuid.UUID { return c.ID }
func (c NodeChangedData) NodeID() uuid.UUID { return c.ID }

// Target returns the node whose permission governs c: the parent for
// NodeAdded, the node itself otherwise.
func Target(root *tree.Node, c Change) (*tree.Node, error) {
	switch v := c.(type) {
	case NodeAdded:
		return root.Lookup(v.Parent)
	case NodeRemoved, NodeChangedName, NodeChangedData:
		return root.Lookup(c.NodeID())
	default:
		return nil, fmt.Errorf("%w: unsupported change %T", ErrInvalid, c)
	}
}

// Apply performs c on the tree rooted at root and returns the tree's new
// content hash. Every check happens before the tree is touched, so a
// returned error means the tree is unchanged.
//
// Apply does no locking; callers must serialize access to root.
func Apply(root *tree.Node, c Change) (uint64, error) {
	switch v := c.(type) {
	case NodeAdded:
		if v.ID == uuid.Nil {
			return 0, fmt.Errorf("%w: node_added has no id", ErrInvalid)
		}
		if v.Data == nil {
			return 0, fmt.Errorf("%w: node_added %s has no data", ErrInvalid, v.ID)
		}
		parent, err := root.Lookup(v.Parent)
		if err != nil {
			return 0, fmt.Errorf("add %s: parent: %w", v.ID, err)
		}
		if root.Find(v.ID) != nil {
			return 0, fmt.Errorf("add %s: %w", v.ID, ErrDuplicateID)
		}
		parent.AddChild(tree.New(tree.Config{
			ID:         v.ID,
			Name:       v.Name,
			Data:       tree.CloneData(v.Data),
			Permission: parent.Permission(),
		}))

	case NodeRemoved:
		if v.ID == root.ID() {
			return 0, fmt.Errorf("remove %s: %w", v.ID, ErrRootRemoval)
		}
		parent := root.FindParent(v.ID)
		if parent == nil {
			return 0, fmt.Errorf("remove: %w: %s", tree.ErrNotFound, v.ID)
		}
		parent.RemoveChild(v.ID)

	case NodeChangedName:
		n, err := root.Lookup(v.ID)
		if err != nil {
			return 0, fmt.Errorf("rename: %w", err)
		}
		n.ChangeName(v.Name)

	case NodeChangedData:
		if v.Data == nil {
			return 0, fmt.Errorf("%w: node_changed_data %s has no data", ErrInvalid, v.ID)
		}
		n, err := root.Lookup(v.ID)
		if err != nil {
			return 0, fmt.Errorf("set data: %w", err)
		}
		n.ChangeData(tree.CloneData(v.Data))

	default:
		return 0, fmt.Errorf("%w: unsupported change %T", ErrInvalid, c)
	}

	return root.Hash(), nil
}

// Describe renders c for logs.
func Describe(c Change) string {
	switch v := c.(type) {
	case NodeAdded:
		name := ""
		if v.Name != nil {
			name = " " + *v.Name
		}
		return fmt.Sprintf("add %s%s (%s) under %s", v.ID, name, tree.FormatData(v.Data), v.Parent)
	case NodeRemoved:
		return fmt.Sprintf("remove %s", v.ID)
	case NodeChangedName:
		return fmt.Sprintf("rename %s to %q", v.ID, v.Name)
	case NodeChangedData:
		return fmt.Sprintf("set %s to %s", v.ID, tree.FormatData(v.Data))
	default:
		return fmt.Sprintf("%T", c)
	}
}
