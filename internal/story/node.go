// Package story implements the in-memory model of a branching narrative
// tree: nodes holding scene text and ordered events, linked by player
// actions. All mutating operations are pure: they clone the tree and
// return the new state, leaving the input untouched.
package story

import "fmt"

// EventType classifies a narrative event.
type EventType string

// Supported event types.
const (
	EventDialogue    EventType = "dialogue"
	EventAction      EventType = "action"
	EventThought     EventType = "thought"
	EventDescription EventType = "description"
)

// ParseEventType validates and returns the event type for s.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventDialogue, EventAction, EventThought, EventDescription:
		return t, nil
	}
	return "", fmt.Errorf("story: unknown event type %q", s)
}

// Event is a single dialogue or narration beat inside a node.
type Event struct {
	ID      ID        `json:"id"`
	Speaker string    `json:"speaker"`
	Content string    `json:"content"`
	Type    EventType `json:"event_type"`
}

// Action is a player choice template.
type Action struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`
	IsKey       bool   `json:"is_key_action"`
}

// ActionBinding attaches an action to its optional target node.
// A nil TargetNodeID means the action is not yet linked anywhere.
type ActionBinding struct {
	Action       Action  `json:"action"`
	TargetNodeID *string `json:"target_node_id"`
}

// Node is a single scene in the narrative tree.
type Node struct {
	ID              string          `json:"id"`
	Level           int             `json:"level"`
	ParentNodeID    *string         `json:"parent_node_id"`
	Scene           string          `json:"scene"`
	Events          []Event         `json:"events"`
	OutgoingActions []ActionBinding `json:"outgoing_actions"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.ParentNodeID != nil {
		p := *n.ParentNodeID
		c.ParentNodeID = &p
	}
	c.Events = make([]Event, len(n.Events))
	copy(c.Events, n.Events)
	c.OutgoingActions = make([]ActionBinding, len(n.OutgoingActions))
	for i, b := range n.OutgoingActions {
		nb := b
		if b.TargetNodeID != nil {
			t := *b.TargetNodeID
			nb.TargetNodeID = &t
		}
		c.OutgoingActions[i] = nb
	}
	return &c
}

// EventIndex returns the position of the event with the given ID, or -1.
func (n *Node) EventIndex(id ID) int {
	for i, ev := range n.Events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// ActionIndex returns the position of the binding whose action has the
// given ID, or -1.
func (n *Node) ActionIndex(id ID) int {
	for i, b := range n.OutgoingActions {
		if b.Action.ID == id {
			return i
		}
	}
	return -1
}
