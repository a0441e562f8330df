package editor

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/fabula/internal/story"
)

// Session owns one project's local replica. The replica is an immutable
// snapshot swapped wholesale on every change; callers may hold the
// returned *story.Tree indefinitely without seeing later edits.
//
// Every mutating call serializes per node, so two edits to the same
// node never overlap on the wire while edits to different nodes may be
// in flight concurrently. A reload or project switch bumps the session
// epoch; responses from before the bump are discarded with
// ErrSuperseded instead of being applied to the new context.
type Session struct {
	authority Authority

	mu        sync.Mutex
	projectID string
	tree      *story.Tree
	epoch     uint64
	divergent map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSession creates a session for the given project. Call Load before
// editing.
func NewSession(a Authority, projectID string) *Session {
	return &Session{
		authority: a,
		projectID: projectID,
		divergent: map[string]struct{}{},
		locks:     map[string]*sync.Mutex{},
	}
}

// Load fetches the project's full story tree and replaces the replica.
// Any in-flight edit started before Load completes is discarded.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	tree, err := s.authority.FetchStoryTree(ctx, projectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.tree = tree
	s.divergent = map[string]struct{}{}
	return nil
}

// SwitchProject retargets the session and loads the new project's tree.
func (s *Session) SwitchProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.projectID = projectID
	s.epoch++
	s.mu.Unlock()
	return s.Load(ctx)
}

// Tree returns the current replica snapshot. May be nil before Load.
func (s *Session) Tree() *story.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// ProjectID returns the project this session edits.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Divergent lists item identifiers whose last batch update the
// authority rejected; their local values differ from the authority's.
func (s *Session) Divergent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.divergent))
	for id := range s.divergent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lockNode acquires the node's serialization lock and returns the
// release func.
func (s *Session) lockNode(nodeID string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[nodeID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[nodeID] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// checkpoint records a pre-change snapshot with the authority. Failure
// to checkpoint never blocks the edit itself.
func (s *Session) checkpoint(ctx context.Context, opType, description string, affectedNodeID *string) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	if _, err := s.authority.CreateSnapshot(ctx, projectID, opType, description, affectedNodeID); err != nil {
		slog.Warn("checkpoint failed",
			slog.String("project", projectID),
			slog.String("op", opType),
			slog.String("error", err.Error()))
	}
}

// ApplyLocalEdit mutates the replica immediately with no network call.
// Changes staged this way reach the authority on the next CommitBatch
// for the node.
func (s *Session) ApplyLocalEdit(nodeID string, u BatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := applyUpdate(s.tree, nodeID, u, nil)
	if err != nil {
		return err
	}
	s.tree = t
	return nil
}

// applyUpdate applies the update's fields to the tree. When accepted is
// non-nil, only items it marks true are applied.
func applyUpdate(t *story.Tree, nodeID string, u BatchUpdate, accepted map[string]bool) (*story.Tree, error) {
	var err error
	if u.Scene != nil && (accepted == nil || accepted[nodeID]) {
		if t, err = t.SetScene(nodeID, *u.Scene); err != nil {
			return nil, err
		}
	}
	for _, it := range u.Events {
		if accepted != nil && !accepted[it.ID.Value()] {
			continue
		}
		if t, err = t.UpdateEvent(it.ID, it.Updates); err != nil {
			return nil, err
		}
	}
	for _, it := range u.Actions {
		if accepted != nil && !accepted[it.ID.Value()] {
			continue
		}
		if t, err = t.UpdateAction(it.ID, it.Updates); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// CommitNewEvent inserts a pending event locally, asks the authority to
// create it, and resolves the pending identifier in place on success.
// On failure the pending event is removed again.
func (s *Session) CommitNewEvent(ctx context.Context, nodeID, speaker, content string, typ story.EventType) (story.ID, error) {
	unlock := s.lockNode(nodeID)
	defer unlock()

	s.checkpoint(ctx, "add_event", "Add "+string(typ)+" event", &nodeID)

	pending := story.NewPending()
	s.mu.Lock()
	epoch := s.epoch
	next, err := s.tree.AppendEvent(nodeID, story.Event{ID: pending, Speaker: speaker, Content: content, Type: typ})
	if err != nil {
		s.mu.Unlock()
		return story.ID{}, err
	}
	s.tree = next
	s.mu.Unlock()

	serverID, callErr := s.authority.CreateEvent(ctx, nodeID, speaker, content, typ)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return story.ID{}, ErrSuperseded
	}
	if callErr != nil {
		if next, err := s.tree.RemoveEvent(pending); err == nil {
			s.tree = next
		}
		return story.ID{}, callErr
	}
	next, err = s.tree.ResolveEventID(pending, serverID)
	if err != nil {
		return story.ID{}, err
	}
	s.tree = next
	return story.Committed(serverID), nil
}

// CommitNewAction inserts a pending unlinked action locally and
// resolves its identifier from the authority's response.
func (s *Session) CommitNewAction(ctx context.Context, nodeID, description string, isKeyAction bool) (story.ID, error) {
	unlock := s.lockNode(nodeID)
	defer unlock()

	s.checkpoint(ctx, "add_action", "Add action", &nodeID)

	pending := story.NewPending()
	binding := story.ActionBinding{Action: story.Action{ID: pending, Description: description, IsKey: isKeyAction}}
	s.mu.Lock()
	epoch := s.epoch
	next, err := s.tree.AppendAction(nodeID, binding)
	if err != nil {
		s.mu.Unlock()
		return story.ID{}, err
	}
	s.tree = next
	s.mu.Unlock()

	serverID, callErr := s.authority.CreateAction(ctx, nodeID, description, isKeyAction)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return story.ID{}, ErrSuperseded
	}
	if callErr != nil {
		if next, err := s.tree.RemoveAction(pending); err == nil {
			s.tree = next
		}
		return story.ID{}, callErr
	}
	next, err = s.tree.ResolveActionID(pending, serverID)
	if err != nil {
		return story.ID{}, err
	}
	s.tree = next
	return story.Committed(serverID), nil
}

// DeleteEvent removes the event optimistically. Deleting a still-pending
// event is purely local; a permanent one is deleted from the authority,
// and reinserted at its old position if the request fails.
func (s *Session) DeleteEvent(ctx context.Context, id story.ID) error {
	s.mu.Lock()
	nodeID, _, ok := s.tree.FindEvent(id)
	s.mu.Unlock()
	if !ok {
		return &StaleReferenceError{Op: "delete event", ID: id.String()}
	}

	unlock := s.lockNode(nodeID)
	defer unlock()

	if !id.IsPending() {
		s.checkpoint(ctx, "delete_event", "Delete event", &nodeID)
	}

	s.mu.Lock()
	epoch := s.epoch
	nodeID, ev, ok := s.tree.FindEvent(id)
	if !ok {
		s.mu.Unlock()
		return &StaleReferenceError{Op: "delete event", ID: id.String()}
	}
	n, _ := s.tree.Node(nodeID)
	idx := n.EventIndex(id)
	next, err := s.tree.RemoveEvent(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tree = next
	s.mu.Unlock()

	if id.IsPending() {
		return nil
	}

	callErr := s.authority.DeleteEvent(ctx, id.Value())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSuperseded
	}
	if callErr != nil {
		if next, err := s.tree.InsertEventAt(nodeID, idx, ev); err == nil {
			s.tree = next
		}
		return callErr
	}
	return nil
}

// DeleteAction removes the action binding optimistically. Only the
// connection disappears; the target node stays in the tree.
func (s *Session) DeleteAction(ctx context.Context, id story.ID) error {
	s.mu.Lock()
	nodeID, _, ok := s.tree.FindAction(id)
	s.mu.Unlock()
	if !ok {
		return &StaleReferenceError{Op: "delete action", ID: id.String()}
	}

	unlock := s.lockNode(nodeID)
	defer unlock()

	if !id.IsPending() {
		s.checkpoint(ctx, "delete_action", "Delete action", &nodeID)
	}

	s.mu.Lock()
	epoch := s.epoch
	nodeID, b, ok := s.tree.FindAction(id)
	if !ok {
		s.mu.Unlock()
		return &StaleReferenceError{Op: "delete action", ID: id.String()}
	}
	n, _ := s.tree.Node(nodeID)
	idx := n.ActionIndex(id)
	next, err := s.tree.RemoveAction(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tree = next
	s.mu.Unlock()

	if id.IsPending() {
		return nil
	}

	callErr := s.authority.DeleteAction(ctx, id.Value())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSuperseded
	}
	if callErr != nil {
		if next, err := s.tree.InsertActionAt(nodeID, idx, b); err == nil {
			s.tree = next
		}
		return callErr
	}
	return nil
}

// CommitBatch sends every changed field of one node in a single request
// and reconciles per item: accepted items are applied to the replica,
// rejected ones are left untouched and flagged divergent.
func (s *Session) CommitBatch(ctx context.Context, nodeID string, u BatchUpdate) (BatchOutcome, error) {
	for _, it := range u.Events {
		if it.ID.IsPending() {
			return BatchOutcome{}, &StaleReferenceError{Op: "batch update", ID: it.ID.String()}
		}
	}
	for _, it := range u.Actions {
		if it.ID.IsPending() {
			return BatchOutcome{}, &StaleReferenceError{Op: "batch update", ID: it.ID.String()}
		}
	}

	unlock := s.lockNode(nodeID)
	defer unlock()

	s.checkpoint(ctx, "batch_update", "Update node fields", &nodeID)

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	results, callErr := s.authority.BatchUpdateNode(ctx, nodeID, u)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return BatchOutcome{}, ErrSuperseded
	}
	if callErr != nil {
		return BatchOutcome{}, callErr
	}

	accepted := make(map[string]bool, len(results))
	for _, r := range results {
		accepted[r.ID] = r.Success
		if r.Success {
			delete(s.divergent, r.ID)
		} else {
			s.divergent[r.ID] = struct{}{}
		}
	}
	next, err := applyUpdate(s.tree, nodeID, u, accepted)
	if err != nil {
		return BatchOutcome{}, err
	}
	s.tree = next
	return outcomeOf(results), nil
}

// Checkpoint records an explicit snapshot of the current project state.
func (s *Session) Checkpoint(ctx context.Context, operationType, description string, affectedNodeID *string) (*story.HistoryEntry, error) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	return s.authority.CreateSnapshot(ctx, projectID, operationType, description, affectedNodeID)
}

// History returns the project's checkpoint timeline, newest first.
func (s *Session) History(ctx context.Context) ([]story.HistoryEntry, error) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	return s.authority.GetHistory(ctx, projectID)
}

// RollbackTo restores the project to the snapshot and reloads the
// replica. The old replica is invalid after a rollback; no partial
// reconciliation is attempted.
func (s *Session) RollbackTo(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	if err := s.authority.Rollback(ctx, projectID, snapshotID); err != nil {
		return err
	}

	// Invalidate before the reload so in-flight edits cannot land on
	// the restored state.
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()

	return s.Load(ctx)
}

// DeleteSnapshot removes a checkpoint without touching live tree state.
func (s *Session) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	return s.authority.DeleteSnapshot(ctx, projectID, snapshotID)
}
