package storyservice_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/starford/fabula/internal/apperr"
	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
	"github.com/starford/fabula/internal/testutil"
)

func newService(t *testing.T) *storyservice.Service {
	t.Helper()
	return storyservice.NewService(testutil.TestDB(t), nil)
}

func TestCreateAndFetchTree(t *testing.T) {
	svc := newService(t)
	projectID, tree := testutil.SeedProject(t, svc)

	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(tree.Nodes))
	}
	if len(tree.Connections) != 2 {
		t.Errorf("connections = %d, want 2", len(tree.Connections))
	}

	root, _ := tree.Node(tree.RootNodeID)
	if root.Scene != "You wake in a clearing." {
		t.Errorf("root scene = %q", root.Scene)
	}

	if _, err := svc.FetchTree(context.Background(), projectID+"-missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing project error = %v, want ErrNotFound", err)
	}
}

func TestCreateEventAssignsID(t *testing.T) {
	svc := newService(t)
	projectID, tree := testutil.SeedProject(t, svc)
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, "c1", "Stranger", "Who goes there?", story.EventDialogue)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id == "" {
		t.Fatal("empty event ID")
	}

	tree, err = svc.FetchTree(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := tree.Node("c1")
	if len(n.Events) != 1 || n.Events[0].ID.Value() != id {
		t.Errorf("events = %+v", n.Events)
	}

	if _, err := svc.CreateEvent(ctx, "no-such-node", "x", "y", story.EventDialogue); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing node error = %v, want ErrNotFound", err)
	}
	if _, err := svc.CreateEvent(ctx, "c1", "x", "y", story.EventType("song")); err == nil {
		t.Error("invalid event type accepted")
	}
}

func TestDeleteActionLeavesSiblingAndTarget(t *testing.T) {
	svc := newService(t)
	projectID, tree := testutil.SeedProject(t, svc)
	ctx := context.Background()

	root, _ := tree.Node(tree.RootNodeID)
	a1 := root.OutgoingActions[0].Action.ID.Value()

	if err := svc.DeleteAction(ctx, a1); err != nil {
		t.Fatalf("DeleteAction: %v", err)
	}

	tree, err := svc.FetchTree(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.Node("c1"); !ok {
		t.Error("target node deleted with its action")
	}
	if len(tree.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(tree.Connections))
	}
	if tree.Connections[0].ToNodeID != "c2" {
		t.Errorf("surviving connection = %+v", tree.Connections[0])
	}

	if err := svc.DeleteAction(ctx, a1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestBatchUpdatePartialFailure(t *testing.T) {
	svc := newService(t)
	projectID, tree := testutil.SeedProject(t, svc)
	ctx := context.Background()

	evID, err := svc.CreateEvent(ctx, "c1", "Stranger", "Halt!", story.EventDialogue)
	if err != nil {
		t.Fatal(err)
	}

	scene := "A darker forest"
	content := "Halt, traveler!"
	missing := "ghost-event"
	results, err := svc.BatchUpdateNode(ctx, "c1", storyservice.BatchUpdate{
		Scene: &scene,
		Events: []storyservice.BatchEventItem{
			{ID: evID, Updates: story.EventUpdate{Content: &content}},
			{ID: missing, Updates: story.EventUpdate{Content: &content}},
		},
	})
	if err != nil {
		t.Fatalf("BatchUpdateNode: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else if r.ID != missing {
			t.Errorf("unexpected failure for %s: %s", r.ID, r.Error)
		}
	}
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}

	// Applied items stay committed; unrelated fields untouched.
	tree, err = svc.FetchTree(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := tree.Node("c1")
	if n.Scene != scene {
		t.Errorf("scene = %q", n.Scene)
	}
	if n.Events[0].Content != content {
		t.Errorf("content = %q", n.Events[0].Content)
	}
	if n.Events[0].Speaker != "Stranger" {
		t.Errorf("speaker changed: %q", n.Events[0].Speaker)
	}
}

func TestHistoryRetentionCap(t *testing.T) {
	svc := newService(t)
	projectID, _ := testutil.SeedProject(t, svc)
	ctx := context.Background()

	for i := 1; i <= story.HistoryLimit+1; i++ {
		_, err := svc.CreateSnapshot(ctx, projectID, "edit_scene", fmt.Sprintf("s%d", i), nil)
		if err != nil {
			t.Fatalf("CreateSnapshot %d: %v", i, err)
		}

		entries, err := svc.History(ctx, projectID)
		if err != nil {
			t.Fatal(err)
		}
		want := i
		if want > story.HistoryLimit {
			want = story.HistoryLimit
		}
		if len(entries) != want {
			t.Fatalf("after %d snapshots: history = %d, want %d", i, len(entries), want)
		}
	}

	// s1 was evicted; s6 is newest.
	entries, _ := svc.History(ctx, projectID)
	if entries[0].OperationDescription != "s6" {
		t.Errorf("newest = %q, want s6", entries[0].OperationDescription)
	}
	for _, e := range entries {
		if e.OperationDescription == "s1" {
			t.Error("s1 still retrievable after eviction")
		}
	}
}

func TestRollbackDiscardsNewerEntries(t *testing.T) {
	svc := newService(t)
	projectID, tree := testutil.SeedProject(t, svc)
	ctx := context.Background()

	// Checkpoint the pristine state, then mutate and checkpoint twice more.
	s1, err := svc.CreateSnapshot(ctx, projectID, "initial_state", "before edits", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateEvent(ctx, "c1", "Voice", "Turn back.", story.EventDialogue); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateSnapshot(ctx, projectID, "add_event", "added warning", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateEvent(ctx, "c2", "River", "The water whispers.", story.EventDescription); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateSnapshot(ctx, projectID, "add_event", "added whisper", nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.Rollback(ctx, projectID, s1.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// Exactly the two newer entries are gone; target is the new marker.
	entries, err := svc.History(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != s1.ID {
		t.Fatalf("history after rollback = %+v", entries)
	}

	// Tree content restored to the checkpoint.
	restored, err := svc.FetchTree(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"c1", "c2"} {
		n, _ := restored.Node(id)
		if len(n.Events) != 0 {
			t.Errorf("node %s still has %d events after rollback", id, len(n.Events))
		}
	}
	if len(restored.Nodes) != len(tree.Nodes) {
		t.Errorf("nodes = %d, want %d", len(restored.Nodes), len(tree.Nodes))
	}
	if err := restored.Validate(); err != nil {
		t.Errorf("restored tree invalid: %v", err)
	}
}

func TestDeleteSnapshotProtectsCurrentMarker(t *testing.T) {
	svc := newService(t)
	projectID, _ := testutil.SeedProject(t, svc)
	ctx := context.Background()

	older, err := svc.CreateSnapshot(ctx, projectID, "edit", "older", nil)
	if err != nil {
		t.Fatal(err)
	}
	newest, err := svc.CreateSnapshot(ctx, projectID, "edit", "newest", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteSnapshot(ctx, projectID, newest.ID); !errors.Is(err, apperr.ErrProtected) {
		t.Errorf("deleting current marker = %v, want ErrProtected", err)
	}
	if err := svc.DeleteSnapshot(ctx, projectID, older.ID); err != nil {
		t.Errorf("deleting older entry: %v", err)
	}

	entries, _ := svc.History(ctx, projectID)
	if len(entries) != 1 || entries[0].ID != newest.ID {
		t.Errorf("history = %+v", entries)
	}
}
