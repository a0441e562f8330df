package story

import (
	"fmt"
	"sort"
)

// Connection is a derived edge used for rendering. It mirrors an action
// binding whose target node is set and must stay consistent with it.
type Connection struct {
	FromNodeID        string `json:"from_node_id"`
	ToNodeID          string `json:"to_node_id"`
	ActionID          string `json:"action_id"`
	ActionDescription string `json:"action_description"`
}

// Tree is the complete narrative tree for one project.
type Tree struct {
	Nodes       map[string]*Node `json:"nodes"`
	Connections []Connection     `json:"connections"`
	RootNodeID  string           `json:"root_node_id"`
}

// NewTree creates a tree containing a single root node.
func NewTree(rootID, scene string) *Tree {
	t := &Tree{
		Nodes:      map[string]*Node{rootID: {ID: rootID, Scene: scene}},
		RootNodeID: rootID,
	}
	t.RebuildConnections()
	return t
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		Nodes:       make(map[string]*Node, len(t.Nodes)),
		Connections: make([]Connection, len(t.Connections)),
		RootNodeID:  t.RootNodeID,
	}
	for id, n := range t.Nodes {
		c.Nodes[id] = n.Clone()
	}
	copy(c.Connections, t.Connections)
	return c
}

// Node returns the node with the given ID.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// FindEvent locates an event anywhere in the tree and returns its owning
// node ID.
func (t *Tree) FindEvent(id ID) (nodeID string, ev Event, ok bool) {
	for _, n := range t.OrderedNodes() {
		if i := n.EventIndex(id); i >= 0 {
			return n.ID, n.Events[i], true
		}
	}
	return "", Event{}, false
}

// FindAction locates an action binding anywhere in the tree and returns
// its owning node ID.
func (t *Tree) FindAction(id ID) (nodeID string, b ActionBinding, ok bool) {
	for _, n := range t.OrderedNodes() {
		if i := n.ActionIndex(id); i >= 0 {
			return n.ID, n.OutgoingActions[i], true
		}
	}
	return "", ActionBinding{}, false
}

// mutate clones the tree, applies fn to the clone, and rebuilds the
// derived connections. fn receives the cloned tree and may modify it
// freely.
func (t *Tree) mutate(fn func(*Tree) error) (*Tree, error) {
	c := t.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}
	c.RebuildConnections()
	return c, nil
}

// SetScene returns a new tree with the node's scene text replaced.
func (t *Tree) SetScene(nodeID, scene string) (*Tree, error) {
	return t.mutate(func(c *Tree) error {
		n, ok := c.Nodes[nodeID]
		if !ok {
			return fmt.Errorf("story: node %s: not found", nodeID)
		}
		n.Scene = scene
		return nil
	})
}

// AppendEvent returns a new tree with ev appended to the node's events.
func (t *Tree) AppendEvent(nodeID string, ev Event) (*Tree, error) {
	return t.mutate(func(c *Tree) error {
		n, ok := c.Nodes[nodeID]
		if !ok {
			return fmt.Errorf("story: node %s: not found", nodeID)
		}
		n.Events = append(n.Events, ev)
		return nil
	})
}

// RemoveEvent returns a new tree with the event deleted wherever it lives.
func (t *Tree) RemoveEvent(id ID) (*Tree, error) {
	nodeID, _, ok := t.FindEvent(id)
	if !ok {
		return nil, fmt.Errorf("story: event %s: not found", id)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		i := n.EventIndex(id)
		n.Events = append(n.Events[:i], n.Events[i+1:]...)
		return nil
	})
}

// InsertEventAt returns a new tree with ev inserted at index i of the
// node's events. An index past the end appends.
func (t *Tree) InsertEventAt(nodeID string, i int, ev Event) (*Tree, error) {
	return t.mutate(func(c *Tree) error {
		n, ok := c.Nodes[nodeID]
		if !ok {
			return fmt.Errorf("story: node %s: not found", nodeID)
		}
		if i < 0 || i > len(n.Events) {
			i = len(n.Events)
		}
		n.Events = append(n.Events[:i], append([]Event{ev}, n.Events[i:]...)...)
		return nil
	})
}

// AppendAction returns a new tree with the binding appended to the node.
func (t *Tree) AppendAction(nodeID string, b ActionBinding) (*Tree, error) {
	return t.mutate(func(c *Tree) error {
		n, ok := c.Nodes[nodeID]
		if !ok {
			return fmt.Errorf("story: node %s: not found", nodeID)
		}
		if b.TargetNodeID != nil {
			if _, ok := c.Nodes[*b.TargetNodeID]; !ok {
				return fmt.Errorf("story: action target %s: not found", *b.TargetNodeID)
			}
		}
		n.OutgoingActions = append(n.OutgoingActions, b)
		return nil
	})
}

// RemoveAction returns a new tree with the binding deleted wherever it
// lives. Target nodes are never removed; a child left without an inbound
// edge simply becomes unconnected.
func (t *Tree) RemoveAction(id ID) (*Tree, error) {
	nodeID, _, ok := t.FindAction(id)
	if !ok {
		return nil, fmt.Errorf("story: action %s: not found", id)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		i := n.ActionIndex(id)
		n.OutgoingActions = append(n.OutgoingActions[:i], n.OutgoingActions[i+1:]...)
		return nil
	})
}

// InsertActionAt returns a new tree with the binding inserted at index i
// of the node's outgoing actions. An index past the end appends.
func (t *Tree) InsertActionAt(nodeID string, i int, b ActionBinding) (*Tree, error) {
	return t.mutate(func(c *Tree) error {
		n, ok := c.Nodes[nodeID]
		if !ok {
			return fmt.Errorf("story: node %s: not found", nodeID)
		}
		if i < 0 || i > len(n.OutgoingActions) {
			i = len(n.OutgoingActions)
		}
		n.OutgoingActions = append(n.OutgoingActions[:i], append([]ActionBinding{b}, n.OutgoingActions[i:]...)...)
		return nil
	})
}

// EventUpdate carries the optional per-field changes of a batch item.
type EventUpdate struct {
	Speaker *string    `json:"speaker,omitempty"`
	Content *string    `json:"content,omitempty"`
	Type    *EventType `json:"event_type,omitempty"`
}

// ActionUpdate carries the optional per-field changes of a batch item.
type ActionUpdate struct {
	Description *string `json:"description,omitempty"`
	IsKey       *bool   `json:"is_key_action,omitempty"`
}

// UpdateEvent returns a new tree with the update applied to the event.
func (t *Tree) UpdateEvent(id ID, u EventUpdate) (*Tree, error) {
	nodeID, _, ok := t.FindEvent(id)
	if !ok {
		return nil, fmt.Errorf("story: event %s: not found", id)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		ev := &n.Events[n.EventIndex(id)]
		if u.Speaker != nil {
			ev.Speaker = *u.Speaker
		}
		if u.Content != nil {
			ev.Content = *u.Content
		}
		if u.Type != nil {
			ev.Type = *u.Type
		}
		return nil
	})
}

// UpdateAction returns a new tree with the update applied to the action.
func (t *Tree) UpdateAction(id ID, u ActionUpdate) (*Tree, error) {
	nodeID, _, ok := t.FindAction(id)
	if !ok {
		return nil, fmt.Errorf("story: action %s: not found", id)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		a := &n.OutgoingActions[n.ActionIndex(id)].Action
		if u.Description != nil {
			a.Description = *u.Description
		}
		if u.IsKey != nil {
			a.IsKey = *u.IsKey
		}
		return nil
	})
}

// ResolveEventID returns a new tree with a pending event ID replaced by
// its authority-assigned permanent ID, in place.
func (t *Tree) ResolveEventID(pending ID, serverID string) (*Tree, error) {
	nodeID, _, ok := t.FindEvent(pending)
	if !ok {
		return nil, fmt.Errorf("story: pending event %s: not found", pending)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		n.Events[n.EventIndex(pending)].ID = Committed(serverID)
		return nil
	})
}

// ResolveActionID returns a new tree with a pending action ID replaced by
// its authority-assigned permanent ID, in place.
func (t *Tree) ResolveActionID(pending ID, serverID string) (*Tree, error) {
	nodeID, _, ok := t.FindAction(pending)
	if !ok {
		return nil, fmt.Errorf("story: pending action %s: not found", pending)
	}
	return t.mutate(func(c *Tree) error {
		n := c.Nodes[nodeID]
		n.OutgoingActions[n.ActionIndex(pending)].Action.ID = Committed(serverID)
		return nil
	})
}

// RebuildConnections re-derives the connection list from action bindings
// that have a target node. Binding order within each node is preserved;
// nodes are visited in discovery order so the result is deterministic.
func (t *Tree) RebuildConnections() {
	t.Connections = t.Connections[:0]
	for _, n := range t.OrderedNodes() {
		for _, b := range n.OutgoingActions {
			if b.TargetNodeID == nil {
				continue
			}
			t.Connections = append(t.Connections, Connection{
				FromNodeID:        n.ID,
				ToNodeID:          *b.TargetNodeID,
				ActionID:          b.Action.ID.Value(),
				ActionDescription: b.Action.Description,
			})
		}
	}
}

// OrderedNodes returns every node in deterministic discovery order:
// breadth-first from the root, children in parent binding order, then
// any unreachable nodes sorted by ID.
func (t *Tree) OrderedNodes() []*Node {
	out := make([]*Node, 0, len(t.Nodes))
	seen := make(map[string]bool, len(t.Nodes))

	queue := []string{}
	if _, ok := t.Nodes[t.RootNodeID]; ok {
		queue = append(queue, t.RootNodeID)
		seen[t.RootNodeID] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := t.Nodes[id]
		out = append(out, n)
		for _, b := range n.OutgoingActions {
			if b.TargetNodeID == nil || seen[*b.TargetNodeID] {
				continue
			}
			if _, ok := t.Nodes[*b.TargetNodeID]; !ok {
				continue
			}
			seen[*b.TargetNodeID] = true
			queue = append(queue, *b.TargetNodeID)
		}
	}

	rest := make([]string, 0, len(t.Nodes)-len(out))
	for id := range t.Nodes {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, t.Nodes[id])
	}
	return out
}

// Validate checks the structural invariants: the root exists and is the
// only parentless node, parent references resolve, there are no parent
// cycles, and the derived connections match the bindings they mirror.
func (t *Tree) Validate() error {
	root, ok := t.Nodes[t.RootNodeID]
	if !ok {
		return fmt.Errorf("story: root node %s: not found", t.RootNodeID)
	}
	if root.ParentNodeID != nil {
		return fmt.Errorf("story: root node %s has a parent", t.RootNodeID)
	}

	for id, n := range t.Nodes {
		if n.ID != id {
			return fmt.Errorf("story: node key %s does not match node ID %s", id, n.ID)
		}
		if n.Level < 0 {
			return fmt.Errorf("story: node %s: negative level", id)
		}
		if n.ParentNodeID == nil {
			if id != t.RootNodeID {
				return fmt.Errorf("story: node %s has no parent but is not the root", id)
			}
			continue
		}
		if _, ok := t.Nodes[*n.ParentNodeID]; !ok {
			return fmt.Errorf("story: node %s: parent %s not found", id, *n.ParentNodeID)
		}
	}

	// Walk parent chains; revisiting a node within one chain is a cycle.
	for id := range t.Nodes {
		hops := 0
		for cur := t.Nodes[id]; cur.ParentNodeID != nil; cur = t.Nodes[*cur.ParentNodeID] {
			hops++
			if hops > len(t.Nodes) {
				return fmt.Errorf("story: parent cycle through node %s", id)
			}
		}
	}

	bound := 0
	for _, n := range t.Nodes {
		for _, b := range n.OutgoingActions {
			if b.TargetNodeID != nil {
				bound++
			}
		}
	}
	if bound != len(t.Connections) {
		return fmt.Errorf("story: %d connections but %d bound actions", len(t.Connections), bound)
	}
	return nil
}
