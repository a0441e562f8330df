package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
	"github.com/starford/fabula/internal/testutil"
)

// testEnv sets up a temp SQLite DB, service, and router for testing.
// authToken != "" enables Bearer token auth.
func testEnv(t *testing.T, authToken string) (*storyservice.Service, http.Handler) {
	t.Helper()
	db := testutil.TestDB(t)
	svc := storyservice.NewService(db, nil)
	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateProjectAndFetchTree(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/projects", map[string]string{
		"title":      "The Lighthouse",
		"root_scene": "A storm gathers over the bay.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var p storyservice.Project
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.ID == "" || p.RootNodeID == "" {
		t.Fatalf("project missing ids: %+v", p)
	}

	w = do(t, router, http.MethodGet, "/projects/"+p.ID+"/story-tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, body = %s", w.Code, w.Body.String())
	}
	var tree story.Tree
	if err := json.Unmarshal(w.Body.Bytes(), &tree); err != nil {
		t.Fatal(err)
	}
	if tree.RootNodeID != p.RootNodeID {
		t.Fatalf("root = %q, want %q", tree.RootNodeID, p.RootNodeID)
	}
	if got := tree.Nodes[tree.RootNodeID].Scene; got != "A storm gathers over the bay." {
		t.Fatalf("root scene = %q", got)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/projects", map[string]string{"root_scene": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEventAndActionLifecycle(t *testing.T) {
	svc, router := testEnv(t, "")
	projectID, tree := testutil.SeedProject(t, svc)

	w := do(t, router, http.MethodPost, "/nodes/"+tree.RootNodeID+"/events", map[string]string{
		"speaker": "Keeper", "content": "Who goes there?", "event_type": "dialogue",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create event status = %d, body = %s", w.Code, w.Body.String())
	}
	var created CreatedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	w = do(t, router, http.MethodPost, "/nodes/"+tree.RootNodeID+"/actions", map[string]any{
		"description": "Climb the stairs", "is_key_action": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create action status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/events/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete event status = %d", w.Code)
	}

	got, err := svc.FetchTree(context.Background(), projectID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := got.FindEvent(story.Committed(created.ID)); ok {
		t.Fatalf("event %s still present after delete", created.ID)
	}
}

func TestDeleteMissingEventIs404(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodDelete, "/events/no-such-event", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBatchUpdateReportsPerItemResults(t *testing.T) {
	svc, router := testEnv(t, "")
	_, tree := testutil.SeedProject(t, svc)

	root := tree.Nodes[tree.RootNodeID]
	actionID := root.OutgoingActions[0].Action.ID.Value()

	w := do(t, router, http.MethodPut, "/nodes/"+tree.RootNodeID+"/batch", map[string]any{
		"scene": "The beam sweeps the rocks.",
		"actions": []map[string]any{
			{"id": actionID, "updates": map[string]any{"description": "Open the hatch"}},
			{"id": "missing-action", "updates": map[string]any{"description": "nope"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("batch status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp BatchUpdateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	byID := map[string]bool{}
	for _, r := range resp.Results {
		byID[r.ID] = r.Success
	}
	if !byID[tree.RootNodeID] || !byID[actionID] || byID["missing-action"] {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	svc, router := testEnv(t, "")
	projectID, _ := testutil.SeedProject(t, svc)

	// Two checkpoints.
	for _, op := range []string{"add_event", "edit_scene"} {
		w := do(t, router, http.MethodPost, "/projects/"+projectID+"/history/snapshot", map[string]string{
			"operation_type":        op,
			"operation_description": "checkpoint before " + op,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("snapshot status = %d, body = %s", w.Code, w.Body.String())
		}
	}

	w := do(t, router, http.MethodGet, "/projects/"+projectID+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var hist HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist.History))
	}

	// Newest entry is the current state marker and cannot be deleted.
	w = do(t, router, http.MethodDelete, "/projects/"+projectID+"/history/"+hist.History[0].ID, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete marker status = %d, want 409", w.Code)
	}

	// Older entries can be rolled back to.
	w = do(t, router, http.MethodPost, "/projects/"+projectID+"/history/rollback", map[string]string{
		"snapshot_id": hist.History[1].ID,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("rollback status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with token status = %d, want 200", w.Code)
	}
}
