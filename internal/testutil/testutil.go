// Package testutil provides shared test helpers for setting up databases
// and seeded narrative projects.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/fabula/internal/store"
	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "fabula-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedProject creates a project with a root node and two children linked
// by key actions, and returns the project ID and the stored tree.
func SeedProject(t *testing.T, svc *storyservice.Service) (string, *story.Tree) {
	t.Helper()
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "Test Story", "You wake in a clearing.")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	tree, err := svc.FetchTree(ctx, p.ID)
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	root := tree.RootNodeID

	tree = AddChild(t, tree, root, "c1", "A dark forest", "Walk into the forest")
	tree = AddChild(t, tree, root, "c2", "A riverbank", "Follow the river")

	if err := svc.ImportProject(ctx, p.ID, "Test Story", tree); err != nil {
		t.Fatalf("ImportProject: %v", err)
	}
	tree, err = svc.FetchTree(ctx, p.ID)
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	return p.ID, tree
}

// AddChild links a new child node under parent with a key action and
// returns the resulting tree.
func AddChild(t *testing.T, tree *story.Tree, parentID, childID, scene, actionDesc string) *story.Tree {
	t.Helper()
	parent, ok := tree.Node(parentID)
	if !ok {
		t.Fatalf("parent %s not in tree", parentID)
	}

	pid := parentID
	cid := childID
	next := tree.Clone()
	next.Nodes[childID] = &story.Node{
		ID:           childID,
		Level:        parent.Level + 1,
		ParentNodeID: &pid,
		Scene:        scene,
	}
	next, err := next.AppendAction(parentID, story.ActionBinding{
		Action:       story.Action{ID: story.Committed("act-" + childID), Description: actionDesc, IsKey: true},
		TargetNodeID: &cid,
	})
	if err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	return next
}
