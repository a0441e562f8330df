// Package parser reads story files from the library into tree form.
// Files are YAML; JSON story files parse through the same path since
// YAML is a superset.
package parser

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/starford/fabula/internal/story"
)

// Project is the parsed content of one story file.
type Project struct {
	ID    string
	Title string
	Tree  *story.Tree
}

type fileEvent struct {
	ID      string `yaml:"id" json:"id"`
	Speaker string `yaml:"speaker" json:"speaker"`
	Content string `yaml:"content" json:"content"`
	Type    string `yaml:"type" json:"type"`
}

type fileAction struct {
	ID          string  `yaml:"id" json:"id"`
	Description string  `yaml:"description" json:"description"`
	Key         bool    `yaml:"key" json:"key"`
	Target      *string `yaml:"target" json:"target"`
}

type fileNode struct {
	Scene   string       `yaml:"scene" json:"scene"`
	Events  []fileEvent  `yaml:"events" json:"events"`
	Actions []fileAction `yaml:"actions" json:"actions"`
}

type fileProject struct {
	ID    string              `yaml:"id" json:"id"`
	Title string              `yaml:"title" json:"title"`
	Root  string              `yaml:"root" json:"root"`
	Nodes map[string]fileNode `yaml:"nodes" json:"nodes"`
}

// Parse decodes a story file and assembles a validated tree. Event and
// action identifiers are optional in the file; missing ones get stable
// identifiers derived from the owning node and position, so reimporting
// an unchanged file yields the same tree.
func Parse(data []byte) (*Project, error) {
	var fp fileProject
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("parser: decode: %w", err)
	}
	if fp.Root == "" {
		return nil, fmt.Errorf("parser: missing root node id")
	}
	if _, ok := fp.Nodes[fp.Root]; !ok {
		return nil, fmt.Errorf("parser: root node %q not defined", fp.Root)
	}

	tree := &story.Tree{
		Nodes:      make(map[string]*story.Node, len(fp.Nodes)),
		RootNodeID: fp.Root,
	}
	for id, fn := range fp.Nodes {
		n := &story.Node{ID: id, Scene: fn.Scene}
		for i, fe := range fn.Events {
			typ := story.EventDialogue
			if fe.Type != "" {
				t, err := story.ParseEventType(fe.Type)
				if err != nil {
					return nil, fmt.Errorf("parser: node %s event %d: %w", id, i, err)
				}
				typ = t
			}
			evID := fe.ID
			if evID == "" {
				evID = fmt.Sprintf("%s-e%d", id, i)
			}
			n.Events = append(n.Events, story.Event{
				ID:      story.Committed(evID),
				Speaker: fe.Speaker,
				Content: fe.Content,
				Type:    typ,
			})
		}
		for i, fa := range fn.Actions {
			if fa.Target != nil {
				if _, ok := fp.Nodes[*fa.Target]; !ok {
					return nil, fmt.Errorf("parser: node %s action %d: target %q not defined", id, i, *fa.Target)
				}
			}
			actID := fa.ID
			if actID == "" {
				actID = fmt.Sprintf("%s-a%d", id, i)
			}
			target := fa.Target
			n.OutgoingActions = append(n.OutgoingActions, story.ActionBinding{
				Action:       story.Action{ID: story.Committed(actID), Description: fa.Description, IsKey: fa.Key},
				TargetNodeID: target,
			})
		}
		tree.Nodes[id] = n
	}

	assignLevels(tree)
	tree.RebuildConnections()
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	return &Project{ID: fp.ID, Title: deriveTitle(fp), Tree: tree}, nil
}

// assignLevels walks breadth-first from the root, setting each node's
// depth and parent from the first inbound action that reaches it.
// Children are visited in binding order so level assignment is
// deterministic for a given file.
func assignLevels(t *story.Tree) {
	queue := []string{t.RootNodeID}
	visited := map[string]bool{t.RootNodeID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := t.Nodes[id]
		for _, b := range n.OutgoingActions {
			if b.TargetNodeID == nil || visited[*b.TargetNodeID] {
				continue
			}
			child := t.Nodes[*b.TargetNodeID]
			parentID := id
			child.ParentNodeID = &parentID
			child.Level = n.Level + 1
			visited[child.ID] = true
			queue = append(queue, child.ID)
		}
	}

	// Nodes with no inbound action are adopted by the root at the depth
	// below everything reachable; order by id for determinism.
	var orphans []string
	maxLevel := 0
	for id, n := range t.Nodes {
		if visited[id] {
			if n.Level > maxLevel {
				maxLevel = n.Level
			}
		} else {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		n := t.Nodes[id]
		n.Level = maxLevel + 1
		rootID := t.RootNodeID
		n.ParentNodeID = &rootID
	}
}

func deriveTitle(fp fileProject) string {
	if fp.Title != "" {
		return fp.Title
	}
	return fp.ID
}
