package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/fabula/internal/story"
	"github.com/starford/fabula/internal/storyservice"
)

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Title     string `json:"title"`
	RootScene string `json:"root_scene"`
}

// Validate validates the request.
func (r CreateProjectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
	)
}

// CreateEventRequest is the request body for creating a dialogue event.
type CreateEventRequest struct {
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	EventType string `json:"event_type"`
}

// Validate validates the request. An empty event type defaults to dialogue.
func (r CreateEventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.EventType, validation.In(
			string(story.EventDialogue), string(story.EventAction),
			string(story.EventThought), string(story.EventDescription),
		)),
	)
}

// CreateActionRequest is the request body for creating a player action.
type CreateActionRequest struct {
	Description string `json:"description"`
	IsKeyAction bool   `json:"is_key_action"`
}

// Validate validates the request.
func (r CreateActionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Description, validation.Required),
	)
}

// BatchEventItem pairs an event ID with its changed fields.
type BatchEventItem struct {
	ID      string            `json:"id"`
	Updates story.EventUpdate `json:"updates"`
}

// BatchActionItem pairs an action ID with its changed fields.
type BatchActionItem struct {
	ID      string             `json:"id"`
	Updates story.ActionUpdate `json:"updates"`
}

// BatchUpdateRequest carries every changed field of one node.
type BatchUpdateRequest struct {
	Scene   *string           `json:"scene,omitempty"`
	Events  []BatchEventItem  `json:"events"`
	Actions []BatchActionItem `json:"actions"`
}

// Validate validates the request.
func (r BatchUpdateRequest) Validate() error {
	if r.Scene == nil && len(r.Events) == 0 && len(r.Actions) == 0 {
		return validation.NewError("validation_empty_batch", "batch must contain at least one item")
	}
	for _, it := range r.Events {
		if it.ID == "" {
			return validation.NewError("validation_missing_id", "event item without id")
		}
	}
	for _, it := range r.Actions {
		if it.ID == "" {
			return validation.NewError("validation_missing_id", "action item without id")
		}
	}
	return nil
}

func (r BatchUpdateRequest) toService() storyservice.BatchUpdate {
	u := storyservice.BatchUpdate{Scene: r.Scene}
	for _, it := range r.Events {
		u.Events = append(u.Events, storyservice.BatchEventItem{ID: it.ID, Updates: it.Updates})
	}
	for _, it := range r.Actions {
		u.Actions = append(u.Actions, storyservice.BatchActionItem{ID: it.ID, Updates: it.Updates})
	}
	return u
}

// BatchUpdateResponse wraps the per-item outcomes of a batch update.
type BatchUpdateResponse struct {
	Results []storyservice.BatchItemResult `json:"results"`
}

// CreateSnapshotRequest is the request body for creating a checkpoint.
type CreateSnapshotRequest struct {
	OperationType        string  `json:"operation_type"`
	OperationDescription string  `json:"operation_description"`
	AffectedNodeID       *string `json:"affected_node_id,omitempty"`
}

// Validate validates the request.
func (r CreateSnapshotRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OperationType, validation.Required),
	)
}

// RollbackRequest names the checkpoint to restore.
type RollbackRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// Validate validates the request.
func (r RollbackRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SnapshotID, validation.Required),
	)
}

// CreatedResponse is returned after creating an event or action.
type CreatedResponse struct {
	ID string `json:"id"`
}

// SnapshotResponse is returned after creating a checkpoint.
type SnapshotResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryResponse wraps a project's checkpoint timeline, newest first.
type HistoryResponse struct {
	History []story.HistoryEntry `json:"history"`
}

// ProjectListResponse wraps project listings.
type ProjectListResponse struct {
	Projects []storyservice.Project `json:"projects"`
}
