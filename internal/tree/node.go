// Package tree implements the shared document: a tree of typed, permissioned
// nodes with synchronous change notification and a structural content hash.
//
// A tree has no internal locking. Exactly one goroutine may mutate it at a
// time; in canopy that goroutine is the connection actor.
package tree

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/canopy/internal/permissions"
)

var (
	// ErrNotFound is returned when no node carries the requested id.
	ErrNotFound = errors.New("node not found")

	// ErrNotButton is returned when a trigger targets a non-button node.
	ErrNotButton = errors.New("node is not a button")
)

// Config describes a node to be created by New. The zero value yields a
// Public folder with a random id and no name.
type Config struct {
	ID         uuid.UUID
	Name       *string
	Permission permissions.Permission
	Data       Data
	Children   []*Node
}

// Node is a single element of the tree. Children are owned exclusively by
// their parent; a node is never shared between two parents.
type Node struct {
	id         uuid.UUID
	name       *string
	data       Data
	children   []*Node
	permission permissions.Permission
	observers  []Observer
}

// New builds a node from cfg.
func New(cfg Config) *Node {
	n := &Node{
		id:         cfg.ID,
		data:       cfg.Data,
		permission: cfg.Permission,
		children:   slices.Clone(cfg.Children),
	}
	if n.id == uuid.Nil {
		n.id = uuid.New()
	}
	if n.data == nil {
		n.data = Folder{}
	}
	if cfg.Name != nil {
		name := *cfg.Name
		n.name = &name
	}
	return n
}

// Name returns a pointer to s, for populating optional names.
func Name(s string) *string { return &s }

// ID returns the node's immutable identifier.
func (n *Node) ID() uuid.UUID { return n.id }

// Name returns the node's name and whether it has one.
func (n *Node) Name() (string, bool) {
	if n.name == nil {
		return "", false
	}
	return *n.name, true
}

// Data returns the node's current payload.
func (n *Node) Data() Data { return n.data }

// Permission returns the permission declared on the node.
func (n *Node) Permission() permissions.Permission { return n.permission }

// Children returns the node's children in order. The slice must not be
// modified.
func (n *Node) Children() []*Node { return n.children }

// Child returns the i-th child, or nil when out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// ChangeData replaces the payload. Observers see the previous payload before
// the new one is committed. A node currently holding a Button reports a
// press instead of a data change.
func (n *Node) ChangeData(next Data) {
	prev := n.data
	_, pressed := prev.(Button)
	for _, o := range n.observers {
		if pressed {
			o.ButtonPressed(n, prev, next)
		} else {
			o.DataChanged(n, prev, next)
		}
	}
	n.data = next
}

// ChangeName renames the node.
func (n *Node) ChangeName(next string) {
	prev := n.name
	for _, o := range n.observers {
		o.NameChanged(n, prev, next)
	}
	n.name = &next
}

// AddChild appends child. Observers of n are notified before the child
// becomes visible in Children.
func (n *Node) AddChild(child *Node) {
	for _, o := range n.observers {
		o.ChildAdded(n, child)
	}
	n.children = append(n.children, child)
}

// RemoveChild detaches the direct child with the given id and reports
// whether one was found. The removed node is notified first, then its
// descendants in post-order.
func (n *Node) RemoveChild(id uuid.UUID) bool {
	idx := slices.IndexFunc(n.children, func(c *Node) bool { return c.id == id })
	if idx < 0 {
		return false
	}
	removed := n.children[idx]
	n.children = slices.Delete(n.children, idx, idx+1)

	removed.notifyRemoved()
	for _, c := range removed.children {
		c.notifyRemovedPostOrder()
	}
	return true
}

func (n *Node) notifyRemoved() {
	for _, o := range n.observers {
		o.ChildRemoved(n)
	}
}

func (n *Node) notifyRemovedPostOrder() {
	for _, c := range n.children {
		c.notifyRemovedPostOrder()
	}
	n.notifyRemoved()
}

// Find searches the subtree rooted at n depth-first in pre-order and returns
// the first node with the given id, or nil.
func (n *Node) Find(id uuid.UUID) *Node {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the node whose direct child has the given id, or nil.
func (n *Node) FindParent(id uuid.UUID) *Node {
	for _, c := range n.children {
		if c.id == id {
			return n
		}
		if p := c.FindParent(id); p != nil {
			return p
		}
	}
	return nil
}

// Lookup is Find returning ErrNotFound when the id is absent.
func (n *Node) Lookup(id uuid.UUID) (*Node, error) {
	if found := n.Find(id); found != nil {
		return found, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Walk visits n and its descendants in pre-order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Subscribe attaches o to this node only.
func (n *Node) Subscribe(o Observer) {
	n.observers = append(n.observers, o)
}

// SubscribeToChildren attaches o to n and to every node currently in its
// subtree. Nodes added later are not subscribed.
func (n *Node) SubscribeToChildren(o Observer) {
	n.Walk(func(c *Node) bool {
		c.Subscribe(o)
		return true
	})
}

// Press increments the count of a Button node through ChangeData and returns
// the new payload.
func (n *Node) Press() (Button, error) {
	b, ok := n.data.(Button)
	if !ok {
		return Button{}, fmt.Errorf("%w: %s holds %s", ErrNotButton, n.id, n.data.Kind())
	}
	next := Button{Count: b.Count + 1}
	n.ChangeData(next)
	return next, nil
}
