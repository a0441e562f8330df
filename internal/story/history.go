package story

import "time"

// HistoryEntry is one checkpoint in a project's bounded edit timeline.
// Entries are ordered newest first; the newest entry doubles as the
// current-state marker and cannot be deleted.
type HistoryEntry struct {
	ID                   string    `json:"id"`
	OperationType        string    `json:"operation_type"`
	OperationDescription string    `json:"operation_description"`
	AffectedNodeID       *string   `json:"affected_node_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// HistoryLimit caps the number of retained checkpoints per project.
// Insertion beyond the cap evicts the oldest entry.
const HistoryLimit = 5
