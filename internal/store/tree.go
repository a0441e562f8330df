package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/fabula/internal/apperr"
	"github.com/starford/fabula/internal/story"
)

// ProjectRow represents a row in the projects table.
type ProjectRow struct {
	ID         string
	Title      string
	RootNodeID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateProject inserts a project together with its full tree.
func (db *DB) CreateProject(p ProjectRow, t *story.Tree) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO projects (id, title, root_node_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Title, t.RootNodeID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert project: %w", err)
	}
	if err := insertTree(tx, p.ID, t); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProject returns a project by ID.
func (db *DB) GetProject(id string) (*ProjectRow, error) {
	var p ProjectRow
	err := db.conn.QueryRow(`
		SELECT id, title, root_node_id, created_at, updated_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.RootNodeID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns every project ordered by creation time.
func (db *DB) ListProjects() ([]ProjectRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, root_node_id, created_at, updated_at FROM projects ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectRow
	for rows.Next() {
		var p ProjectRow
		if err := rows.Scan(&p.ID, &p.Title, &p.RootNodeID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and, through cascades, its tree and history.
func (db *DB) DeleteProject(id string) error {
	res, err := db.conn.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// LoadTree assembles the full story tree of a project.
func (db *DB) LoadTree(projectID string) (*story.Tree, error) {
	p, err := db.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	t := &story.Tree{Nodes: make(map[string]*story.Node), RootNodeID: p.RootNodeID}

	rows, err := db.conn.Query(`
		SELECT id, parent_node_id, level, scene FROM nodes WHERE project_id = ? ORDER BY ord, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: load nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n := &story.Node{}
		if err := rows.Scan(&n.ID, &n.ParentNodeID, &n.Level, &n.Scene); err != nil {
			return nil, err
		}
		t.Nodes[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := db.conn.Query(`
		SELECT e.id, e.node_id, e.speaker, e.content, e.event_type
		FROM events e JOIN nodes n ON n.id = e.node_id
		WHERE n.project_id = ? ORDER BY e.ord, e.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: load events: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var id, nodeID, speaker, content, typ string
		if err := evRows.Scan(&id, &nodeID, &speaker, &content, &typ); err != nil {
			return nil, err
		}
		n := t.Nodes[nodeID]
		n.Events = append(n.Events, story.Event{
			ID: story.Committed(id), Speaker: speaker, Content: content, Type: story.EventType(typ),
		})
	}
	if err := evRows.Err(); err != nil {
		return nil, err
	}

	acRows, err := db.conn.Query(`
		SELECT a.id, a.node_id, a.description, a.is_key_action, a.target_node_id
		FROM actions a JOIN nodes n ON n.id = a.node_id
		WHERE n.project_id = ? ORDER BY a.ord, a.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: load actions: %w", err)
	}
	defer acRows.Close()
	for acRows.Next() {
		var id, nodeID, desc string
		var isKey bool
		var target *string
		if err := acRows.Scan(&id, &nodeID, &desc, &isKey, &target); err != nil {
			return nil, err
		}
		n := t.Nodes[nodeID]
		n.OutgoingActions = append(n.OutgoingActions, story.ActionBinding{
			Action:       story.Action{ID: story.Committed(id), Description: desc, IsKey: isKey},
			TargetNodeID: target,
		})
	}
	if err := acRows.Err(); err != nil {
		return nil, err
	}

	t.RebuildConnections()
	return t, nil
}

// ReplaceTree atomically swaps a project's entire tree, used by rollback
// and re-import. History entries are left untouched.
func (db *DB) ReplaceTree(projectID string, t *story.Tree) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`
		UPDATE projects SET root_node_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, t.RootNodeID, projectID)
	if err != nil {
		return fmt.Errorf("store: update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("store: clear nodes: %w", err)
	}
	if err := insertTree(tx, projectID, t); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTree(tx *sql.Tx, projectID string, t *story.Tree) error {
	for ord, n := range t.OrderedNodes() {
		_, err := tx.Exec(`
			INSERT INTO nodes (id, project_id, parent_node_id, level, scene, ord)
			VALUES (?, ?, ?, ?, ?, ?)
		`, n.ID, projectID, n.ParentNodeID, n.Level, n.Scene, ord)
		if err != nil {
			return fmt.Errorf("store: insert node %s: %w", n.ID, err)
		}
		for i, ev := range n.Events {
			_, err := tx.Exec(`
				INSERT INTO events (id, node_id, speaker, content, event_type, ord)
				VALUES (?, ?, ?, ?, ?, ?)
			`, ev.ID.Value(), n.ID, ev.Speaker, ev.Content, string(ev.Type), i)
			if err != nil {
				return fmt.Errorf("store: insert event %s: %w", ev.ID, err)
			}
		}
		for i, b := range n.OutgoingActions {
			_, err := tx.Exec(`
				INSERT INTO actions (id, node_id, description, is_key_action, target_node_id, ord)
				VALUES (?, ?, ?, ?, ?, ?)
			`, b.Action.ID.Value(), n.ID, b.Action.Description, b.Action.IsKey, b.TargetNodeID, i)
			if err != nil {
				return fmt.Errorf("store: insert action %s: %w", b.Action.ID, err)
			}
		}
	}
	return nil
}

// InsertEvent appends an event to a node with the next ordinal.
func (db *DB) InsertEvent(nodeID, id, speaker, content string, typ story.EventType) error {
	if err := db.requireNode(nodeID); err != nil {
		return err
	}
	_, err := db.conn.Exec(`
		INSERT INTO events (id, node_id, speaker, content, event_type, ord)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(ord), -1) + 1 FROM events WHERE node_id = ?))
	`, id, nodeID, speaker, content, string(typ), nodeID)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return db.touchProjectOfNode(nodeID)
}

// InsertAction appends an action binding to a node with the next ordinal.
func (db *DB) InsertAction(nodeID, id, description string, isKey bool, targetNodeID *string) error {
	if err := db.requireNode(nodeID); err != nil {
		return err
	}
	_, err := db.conn.Exec(`
		INSERT INTO actions (id, node_id, description, is_key_action, target_node_id, ord)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(ord), -1) + 1 FROM actions WHERE node_id = ?))
	`, id, nodeID, description, isKey, targetNodeID, nodeID)
	if err != nil {
		return fmt.Errorf("store: insert action: %w", err)
	}
	return db.touchProjectOfNode(nodeID)
}

// DeleteEvent removes an event by ID.
func (db *DB) DeleteEvent(id string) error {
	res, err := db.conn.Exec(`DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteAction removes an action by ID.
func (db *DB) DeleteAction(id string) error {
	res, err := db.conn.Exec(`DELETE FROM actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpdateNodeScene replaces a node's scene text.
func (db *DB) UpdateNodeScene(nodeID, scene string) error {
	res, err := db.conn.Exec(`UPDATE nodes SET scene = ? WHERE id = ?`, scene, nodeID)
	if err != nil {
		return fmt.Errorf("store: update scene: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return db.touchProjectOfNode(nodeID)
}

// UpdateEvent applies the non-nil fields of u to an event.
func (db *DB) UpdateEvent(id string, u story.EventUpdate) error {
	set, args := []string{}, []any{}
	if u.Speaker != nil {
		set, args = append(set, "speaker = ?"), append(args, *u.Speaker)
	}
	if u.Content != nil {
		set, args = append(set, "content = ?"), append(args, *u.Content)
	}
	if u.Type != nil {
		set, args = append(set, "event_type = ?"), append(args, string(*u.Type))
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := db.conn.Exec(`UPDATE events SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpdateAction applies the non-nil fields of u to an action.
func (db *DB) UpdateAction(id string, u story.ActionUpdate) error {
	set, args := []string{}, []any{}
	if u.Description != nil {
		set, args = append(set, "description = ?"), append(args, *u.Description)
	}
	if u.IsKey != nil {
		set, args = append(set, "is_key_action = ?"), append(args, *u.IsKey)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := db.conn.Exec(`UPDATE actions SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ProjectOfNode returns the owning project ID of a node.
func (db *DB) ProjectOfNode(nodeID string) (string, error) {
	var pid string
	err := db.conn.QueryRow(`SELECT project_id FROM nodes WHERE id = ?`, nodeID).Scan(&pid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: project of node: %w", err)
	}
	return pid, nil
}

func (db *DB) requireNode(nodeID string) error {
	_, err := db.ProjectOfNode(nodeID)
	return err
}

func (db *DB) touchProjectOfNode(nodeID string) error {
	_, err := db.conn.Exec(`
		UPDATE projects SET updated_at = CURRENT_TIMESTAMP
		WHERE id = (SELECT project_id FROM nodes WHERE id = ?)
	`, nodeID)
	return err
}
