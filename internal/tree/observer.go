package tree

// Observer receives notifications about mutations of the nodes it is
// subscribed to. Notifications are delivered synchronously on the goroutine
// performing the mutation and complete before the mutating call returns.
//
// An Observer must not mutate the node that is notifying it (or any node of
// the same tree) from inside a callback; doing so has undefined results.
type Observer interface {
	// DataChanged fires before n's payload is replaced. prev is the payload
	// being replaced and next the incoming one.
	DataChanged(n *Node, prev, next Data)
	// ButtonPressed fires instead of DataChanged when n holds a Button.
	ButtonPressed(n *Node, prev, next Data)
	// ChildAdded fires on the parent before child is appended.
	ChildAdded(parent, child *Node)
	// ChildRemoved fires on a removed node and then on each of its
	// descendants, after the subtree has been detached.
	ChildRemoved(n *Node)
	// NameChanged fires before the rename is committed. prev is nil when
	// the node had no name.
	NameChanged(n *Node, prev *string, next string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnDataChanged   func(n *Node, prev, next Data)
	OnButtonPressed func(n *Node, prev, next Data)
	OnChildAdded    func(parent, child *Node)
	OnChildRemoved  func(n *Node)
	OnNameChanged   func(n *Node, prev *string, next string)
}

var _ Observer = (*ObserverFuncs)(nil)

func (f *ObserverFuncs) DataChanged(n *Node, prev, next Data) {
	if f.OnDataChanged != nil {
		f.OnDataChanged(n, prev, next)
	}
}

func (f *ObserverFuncs) ButtonPressed(n *Node, prev, next Data) {
	if f.OnButtonPressed != nil {
		f.OnButtonPressed(n, prev, next)
	}
}

func (f *ObserverFuncs) ChildAdded(parent, child *Node) {
	if f.OnChildAdded != nil {
		f.OnChildAdded(parent, child)
	}
}

func (f *ObserverFuncs) ChildRemoved(n *Node) {
	if f.OnChildRemoved != nil {
		f.OnChildRemoved(n)
	}
}

func (f *ObserverFuncs) NameChanged(n *Node, prev *string, next string) {
	if f.OnNameChanged != nil {
		f.OnNameChanged(n, prev, next)
	}
}
