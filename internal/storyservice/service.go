// Package storyservice coordinates store operations for the narrative
// authority: tree access, event/action CRUD, batch updates, and the
// bounded snapshot history.
package storyservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/fabula/internal/apperr"
	"github.com/starford/fabula/internal/store"
	"github.com/starford/fabula/internal/story"
)

// Notifier receives a change notification after a successful mutation.
// kind is e.g. "event.created" or "tree.rolled-back".
type Notifier func(kind, projectID string)

// Service coordinates persistence and change notification.
type Service struct {
	db     *store.DB
	notify Notifier
}

// NewService creates a story service. notify may be nil.
func NewService(db *store.DB, notify Notifier) *Service {
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Service{db: db, notify: notify}
}

// Project is the API-facing project summary.
type Project struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	RootNodeID string    `json:"root_node_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toProject(r store.ProjectRow) Project {
	return Project{ID: r.ID, Title: r.Title, RootNodeID: r.RootNodeID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// CreateProject creates a project with a single root node.
func (s *Service) CreateProject(_ context.Context, title, rootScene string) (*Project, error) {
	now := time.Now().UTC()
	row := store.ProjectRow{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	tree := story.NewTree(uuid.NewString(), rootScene)
	if err := s.db.CreateProject(row, tree); err != nil {
		return nil, err
	}
	row.RootNodeID = tree.RootNodeID
	p := toProject(row)
	s.notify("project.created", p.ID)
	return &p, nil
}

// ImportProject creates or replaces a project with a complete tree,
// keyed by a caller-chosen stable ID. Used by the story file importer.
func (s *Service) ImportProject(_ context.Context, id, title string, tree *story.Tree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("storyservice: import %s: %w", id, err)
	}
	now := time.Now().UTC()
	err := s.db.CreateProject(store.ProjectRow{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, tree)
	if err == nil {
		s.notify("project.created", id)
		return nil
	}
	// Existing project: replace its tree wholesale.
	if replaceErr := s.db.ReplaceTree(id, tree); replaceErr != nil {
		return fmt.Errorf("storyservice: reimport %s: %w", id, replaceErr)
	}
	s.notify("tree.updated", id)
	return nil
}

// ListProjects returns all projects.
func (s *Service) ListProjects(_ context.Context) ([]Project, error) {
	rows, err := s.db.ListProjects()
	if err != nil {
		return nil, err
	}
	out := make([]Project, len(rows))
	for i, r := range rows {
		out[i] = toProject(r)
	}
	return out, nil
}

// FetchTree loads a project's full story tree.
func (s *Service) FetchTree(_ context.Context, projectID string) (*story.Tree, error) {
	return s.db.LoadTree(projectID)
}

// CreateEvent inserts a dialogue/narration event and returns its
// authority-assigned ID.
func (s *Service) CreateEvent(_ context.Context, nodeID, speaker, content string, typ story.EventType) (string, error) {
	if _, err := story.ParseEventType(string(typ)); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.db.InsertEvent(nodeID, id, speaker, content, typ); err != nil {
		return "", err
	}
	if pid, err := s.db.ProjectOfNode(nodeID); err == nil {
		s.notify("event.created", pid)
	}
	return id, nil
}

// CreateAction inserts an action and returns its authority-assigned ID.
// New actions start unlinked; a target is attached later via batch update
// or import.
func (s *Service) CreateAction(_ context.Context, nodeID, description string, isKey bool) (string, error) {
	id := uuid.NewString()
	if err := s.db.InsertAction(nodeID, id, description, isKey, nil); err != nil {
		return "", err
	}
	if pid, err := s.db.ProjectOfNode(nodeID); err == nil {
		s.notify("action.created", pid)
	}
	return id, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(_ context.Context, id string) error {
	return s.db.DeleteEvent(id)
}

// DeleteAction removes an action and its derived connection.
func (s *Service) DeleteAction(_ context.Context, id string) error {
	return s.db.DeleteAction(id)
}

// BatchItemResult is the per-item outcome of a batch update.
type BatchItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchUpdate carries all changed fields of one node in a single request.
type BatchUpdate struct {
	Scene   *string
	Events  []BatchEventItem
	Actions []BatchActionItem
}

// BatchEventItem pairs an event ID with its field updates.
type BatchEventItem struct {
	ID      string
	Updates story.EventUpdate
}

// BatchActionItem pairs an action ID with its field updates.
type BatchActionItem struct {
	ID      string
	Updates story.ActionUpdate
}

// BatchUpdateNode applies each item independently and reports per-item
// outcomes. Items that succeed stay committed even when siblings fail.
func (s *Service) BatchUpdateNode(_ context.Context, nodeID string, u BatchUpdate) ([]BatchItemResult, error) {
	if _, err := s.db.ProjectOfNode(nodeID); err != nil {
		return nil, err
	}

	var results []BatchItemResult
	record := func(id string, err error) {
		r := BatchItemResult{ID: id, Success: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	if u.Scene != nil {
		record(nodeID, s.db.UpdateNodeScene(nodeID, *u.Scene))
	}
	for _, item := range u.Events {
		if item.Updates.Type != nil {
			if _, err := story.ParseEventType(string(*item.Updates.Type)); err != nil {
				record(item.ID, err)
				continue
			}
		}
		record(item.ID, s.db.UpdateEvent(item.ID, item.Updates))
	}
	for _, item := range u.Actions {
		record(item.ID, s.db.UpdateAction(item.ID, item.Updates))
	}

	if pid, err := s.db.ProjectOfNode(nodeID); err == nil {
		s.notify("node.updated", pid)
	}
	return results, nil
}

// CreateSnapshot captures the project's current tree as a checkpoint,
// evicting the oldest entry beyond the retention cap.
func (s *Service) CreateSnapshot(ctx context.Context, projectID, opType, description string, affectedNodeID *string) (*story.HistoryEntry, error) {
	tree, err := s.FetchTree(ctx, projectID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("storyservice: marshal snapshot: %w", err)
	}

	row := store.HistoryRow{
		ID:                   uuid.NewString(),
		ProjectID:            projectID,
		Snapshot:             data,
		OperationType:        opType,
		OperationDescription: description,
		AffectedNodeID:       affectedNodeID,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.db.InsertSnapshot(row); err != nil {
		return nil, err
	}
	return &story.HistoryEntry{
		ID:                   row.ID,
		OperationType:        row.OperationType,
		OperationDescription: row.OperationDescription,
		AffectedNodeID:       row.AffectedNodeID,
		CreatedAt:            row.CreatedAt,
	}, nil
}

// History returns the project's checkpoints newest first; index 0 is the
// current-state marker.
func (s *Service) History(_ context.Context, projectID string) ([]story.HistoryEntry, error) {
	if _, err := s.db.GetProject(projectID); err != nil {
		return nil, err
	}
	rows, err := s.db.ListHistory(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]story.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = story.HistoryEntry{
			ID:                   r.ID,
			OperationType:        r.OperationType,
			OperationDescription: r.OperationDescription,
			AffectedNodeID:       r.AffectedNodeID,
			CreatedAt:            r.CreatedAt,
		}
	}
	return out, nil
}

// Rollback restores the project tree captured by the snapshot and
// discards every newer checkpoint. The restored snapshot becomes the new
// current-state marker. Callers must reload the tree afterwards.
func (s *Service) Rollback(_ context.Context, projectID, snapshotID string) error {
	row, err := s.db.GetSnapshot(projectID, snapshotID)
	if err != nil {
		return err
	}
	var tree story.Tree
	if err := json.Unmarshal(row.Snapshot, &tree); err != nil {
		return fmt.Errorf("storyservice: unmarshal snapshot %s: %w", snapshotID, err)
	}
	tree.RebuildConnections()
	if err := s.db.ReplaceTree(projectID, &tree); err != nil {
		return err
	}
	if err := s.db.DeleteNewerThan(projectID, row.Seq); err != nil {
		return err
	}
	s.notify("tree.rolled-back", projectID)
	return nil
}

// DeleteSnapshot removes one checkpoint without touching live tree
// state. The newest entry is the current-state marker and is protected.
func (s *Service) DeleteSnapshot(_ context.Context, projectID, snapshotID string) error {
	rows, err := s.db.ListHistory(projectID)
	if err != nil {
		return err
	}
	if len(rows) > 0 && rows[0].ID == snapshotID {
		return apperr.ErrProtected
	}
	return s.db.DeleteSnapshot(projectID, snapshotID)
}
