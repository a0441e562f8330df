package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/fabula/internal/apperr"
	"github.com/starford/fabula/internal/story"
)

// HistoryRow represents a row in the story_edit_history table. Seq is
// the insertion order (SQLite rowid) used to order and prune entries.
type HistoryRow struct {
	ID                   string
	ProjectID            string
	Snapshot             []byte
	OperationType        string
	OperationDescription string
	AffectedNodeID       *string
	CreatedAt            time.Time
	Seq                  int64
}

// InsertSnapshot appends a checkpoint and evicts the oldest entries
// beyond the retention cap (FIFO).
func (db *DB) InsertSnapshot(row HistoryRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO story_edit_history
			(id, project_id, snapshot_data, operation_type, operation_description, affected_node_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.ProjectID, row.Snapshot, row.OperationType, row.OperationDescription, row.AffectedNodeID, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert snapshot: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM story_edit_history
		WHERE project_id = ? AND rowid NOT IN (
			SELECT rowid FROM story_edit_history WHERE project_id = ? ORDER BY rowid DESC LIMIT ?
		)
	`, row.ProjectID, row.ProjectID, story.HistoryLimit)
	if err != nil {
		return fmt.Errorf("store: evict snapshots: %w", err)
	}
	return tx.Commit()
}

// ListHistory returns a project's checkpoints newest first.
func (db *DB) ListHistory(projectID string) ([]HistoryRow, error) {
	rows, err := db.conn.Query(`
		SELECT rowid, id, project_id, operation_type, operation_description, affected_node_id, created_at
		FROM story_edit_history WHERE project_id = ? ORDER BY rowid DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(&r.Seq, &r.ID, &r.ProjectID, &r.OperationType, &r.OperationDescription, &r.AffectedNodeID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSnapshot returns one checkpoint including its captured tree data.
func (db *DB) GetSnapshot(projectID, snapshotID string) (*HistoryRow, error) {
	var r HistoryRow
	err := db.conn.QueryRow(`
		SELECT rowid, id, project_id, snapshot_data, operation_type, operation_description, affected_node_id, created_at
		FROM story_edit_history WHERE project_id = ? AND id = ?
	`, projectID, snapshotID).Scan(&r.Seq, &r.ID, &r.ProjectID, &r.Snapshot, &r.OperationType, &r.OperationDescription, &r.AffectedNodeID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	return &r, nil
}

// DeleteNewerThan removes every checkpoint inserted after the given
// sequence number. Used by rollback: discarded entries are gone for good.
func (db *DB) DeleteNewerThan(projectID string, seq int64) error {
	_, err := db.conn.Exec(`
		DELETE FROM story_edit_history WHERE project_id = ? AND rowid > ?
	`, projectID, seq)
	if err != nil {
		return fmt.Errorf("store: prune history: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a single checkpoint without touching tree state.
func (db *DB) DeleteSnapshot(projectID, snapshotID string) error {
	res, err := db.conn.Exec(`
		DELETE FROM story_edit_history WHERE project_id = ? AND id = ?
	`, projectID, snapshotID)
	if err != nil {
		return fmt.Errorf("store: delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
