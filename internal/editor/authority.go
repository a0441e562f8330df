// Package editor keeps a local story tree replica consistent with a
// remote narrative authority while letting edits feel immediate. Edits
// apply optimistically and reconcile against the authority's response;
// per-node serialization guarantees a pending identifier is resolved
// before a follow-up edit can reference it.
package editor

import (
	"context"

	"github.com/starford/fabula/internal/story"
)

// Authority is the remote narrative authority the editor syncs against.
type Authority interface {
	FetchStoryTree(ctx context.Context, projectID string) (*story.Tree, error)
	CreateEvent(ctx context.Context, nodeID, speaker, content string, typ story.EventType) (string, error)
	CreateAction(ctx context.Context, nodeID, description string, isKeyAction bool) (string, error)
	DeleteEvent(ctx context.Context, id string) error
	DeleteAction(ctx context.Context, id string) error
	BatchUpdateNode(ctx context.Context, nodeID string, u BatchUpdate) ([]ItemResult, error)
	CreateSnapshot(ctx context.Context, projectID, operationType, description string, affectedNodeID *string) (*story.HistoryEntry, error)
	GetHistory(ctx context.Context, projectID string) ([]story.HistoryEntry, error)
	Rollback(ctx context.Context, projectID, snapshotID string) error
	DeleteSnapshot(ctx context.Context, projectID, snapshotID string) error
}

// EventItem pairs an event identifier with its changed fields.
type EventItem struct {
	ID      story.ID
	Updates story.EventUpdate
}

// ActionItem pairs an action identifier with its changed fields.
type ActionItem struct {
	ID      story.ID
	Updates story.ActionUpdate
}

// BatchUpdate collects every changed field of one node for a single
// round trip. A nil Scene leaves the scene text alone.
type BatchUpdate struct {
	Scene   *string
	Events  []EventItem
	Actions []ActionItem
}

// ItemResult is the authority's verdict on one batch item.
type ItemResult struct {
	ID      string
	Success bool
	Error   string
}

// BatchStatus is the aggregate outcome of a batch update.
type BatchStatus int

const (
	BatchFullSuccess BatchStatus = iota
	BatchPartialSuccess
	BatchFullFailure
)

func (s BatchStatus) String() string {
	switch s {
	case BatchFullSuccess:
		return "full success"
	case BatchPartialSuccess:
		return "partial success"
	default:
		return "full failure"
	}
}

// BatchOutcome reports the per-item results and their aggregate status.
type BatchOutcome struct {
	Status  BatchStatus
	Results []ItemResult
}

func outcomeOf(results []ItemResult) BatchOutcome {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	o := BatchOutcome{Results: results}
	switch {
	case ok == len(results):
		o.Status = BatchFullSuccess
	case ok == 0:
		o.Status = BatchFullFailure
	default:
		o.Status = BatchPartialSuccess
	}
	return o
}
